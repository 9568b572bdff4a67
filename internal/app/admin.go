package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fedotovmax/payflow/internal/outbox"
	"github.com/fedotovmax/payflow/internal/payment"
)

type OutboxInspector interface {
	CountByStatus(ctx context.Context, status outbox.Status) (int64, error)
	FindByStatus(ctx context.Context, status outbox.Status, limit int) ([]*outbox.Record, error)
}

type RetryInspector interface {
	Size(ctx context.Context) (due, inflight, dead int64, err error)
}

type PaymentService interface {
	CreatePaymentOrder(ctx context.Context, cmd payment.CreateCommand) (*payment.PaymentOrder, error)
	GetPaymentOrder(ctx context.Context, publicPaymentOrderID string) (*payment.PaymentOrder, error)
	DeclinePaymentOrder(ctx context.Context, publicPaymentOrderID, reason string) (*payment.PaymentOrder, error)
}

// HealthCheck is one dependency check run by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type adminController struct {
	log      *slog.Logger
	outbox   OutboxInspector
	retries  RetryInspector
	payments PaymentService
	checks   []HealthCheck
}

func newAdminRouter(l *slog.Logger, o OutboxInspector, r RetryInspector, p PaymentService, checks ...HealthCheck) *mux.Router {
	c := &adminController{
		log:      l,
		outbox:   o,
		retries:  r,
		payments: p,
		checks:   checks,
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", c.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/outbox/stats", c.OutboxStats).Methods(http.MethodGet)
	api.HandleFunc("/outbox/records", c.OutboxRecords).Methods(http.MethodGet)
	api.HandleFunc("/retry/stats", c.RetryStats).Methods(http.MethodGet)
	api.HandleFunc("/payment-orders", c.CreatePaymentOrder).Methods(http.MethodPost)
	api.HandleFunc("/payment-orders/{id}", c.GetPaymentOrder).Methods(http.MethodGet)
	api.HandleFunc("/payment-orders/{id}/decline", c.DeclinePaymentOrder).Methods(http.MethodPost)

	return router
}

func (c *adminController) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(c.checks))

	for _, hc := range c.checks {
		if err := hc.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			out[hc.Name] = err.Error()
			continue
		}
		out[hc.Name] = "ok"
	}

	writeJSON(w, status, out)
}

func (c *adminController) OutboxStats(w http.ResponseWriter, r *http.Request) {
	statuses := []outbox.Status{outbox.StatusNew, outbox.StatusProcessing, outbox.StatusSent, outbox.StatusFailed}

	out := make(map[string]int64, len(statuses))

	for _, st := range statuses {
		n, err := c.outbox.CountByStatus(r.Context(), st)
		if err != nil {
			c.internalError(w, r, "outbox stats", err)
			return
		}
		out[st.String()] = n
	}

	writeJSON(w, http.StatusOK, out)
}

type outboxRecordView struct {
	ID          int64           `json:"id,string"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ClaimedAt   *time.Time      `json:"claimedAt,omitempty"`
	ClaimedBy   *string         `json:"claimedBy,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

func (c *adminController) OutboxRecords(w http.ResponseWriter, r *http.Request) {
	status := outbox.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status == "" {
		status = outbox.StatusFailed
	}

	switch status {
	case outbox.StatusNew, outbox.StatusProcessing, outbox.StatusSent, outbox.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	records, err := c.outbox.FindByStatus(r.Context(), status, limit)
	if err != nil {
		c.internalError(w, r, "outbox records", err)
		return
	}

	out := make([]outboxRecordView, 0, len(records))
	for _, rec := range records {
		view := outboxRecordView{
			ID:          rec.ID,
			EventType:   rec.EventType,
			AggregateID: rec.AggregateID,
			Status:      rec.Status.String(),
			CreatedAt:   rec.CreatedAt,
			ClaimedAt:   rec.ClaimedAt,
			ClaimedBy:   rec.ClaimedBy,
		}
		if json.Valid(rec.Payload) {
			view.Payload = rec.Payload
		}
		out = append(out, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (c *adminController) RetryStats(w http.ResponseWriter, r *http.Request) {
	due, inflight, dead, err := c.retries.Size(r.Context())
	if err != nil {
		c.internalError(w, r, "retry stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"due":      due,
		"inflight": inflight,
		"dead":     dead,
	})
}

type createPaymentOrderRequest struct {
	CheckoutOrderID string `json:"checkoutOrderId"`
	BuyerID         string `json:"buyerId"`
	SellerID        string `json:"sellerId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type paymentOrderView struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PaymentID            int64     `json:"paymentId,string"`
	SellerID             string    `json:"sellerId"`
	BuyerID              string    `json:"buyerId"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	Status               string    `json:"status"`
	RetryCount           int       `json:"retryCount"`
	RetryReason          string    `json:"retryReason,omitempty"`
	LastErrorMessage     string    `json:"lastErrorMessage,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func toPaymentOrderView(o *payment.PaymentOrder) paymentOrderView {
	return paymentOrderView{
		PaymentOrderID:       o.PaymentOrderID,
		PublicPaymentOrderID: o.PublicPaymentOrderID,
		PaymentID:            o.PaymentID,
		SellerID:             o.SellerID,
		BuyerID:              o.BuyerID,
		Amount:               o.Amount.Value,
		Currency:             o.Amount.Currency,
		Status:               o.Status.String(),
		RetryCount:           o.RetryCount,
		RetryReason:          o.RetryReason,
		LastErrorMessage:     o.LastErrorMessage,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func (c *adminController) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req createPaymentOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	o, err := c.payments.CreatePaymentOrder(r.Context(), payment.CreateCommand{
		CheckoutOrderID: req.CheckoutOrderID,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidCommand) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		c.internalError(w, r, "create payment order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentOrderView(o))
}

func (c *adminController) GetPaymentOrder(w http.ResponseWriter, r *http.Request) {
	o, err := c.payments.GetPaymentOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.paymentError(w, r, "get payment order", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentOrderView(o))
}

func (c *adminController) DeclinePaymentOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusUnprocessableEntity, "reason is required")
		return
	}

	o, err := c.payments.DeclinePaymentOrder(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		c.paymentError(w, r, "decline payment order", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentOrderView(o))
}

func (c *adminController) paymentError(w http.ResponseWriter, r *http.Request, what string, err error) {
	switch {
	case errors.Is(err, payment.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "payment order not found")
	case errors.Is(err, payment.ErrTerminalStatus), errors.Is(err, payment.ErrStaleTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		c.internalError(w, r, what, err)
	}
}

func (c *adminController) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	const op = "app.admin.internalError"

	c.log.ErrorContext(r.Context(), what,
		slog.String("op", op),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))

	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
