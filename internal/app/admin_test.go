package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedotovmax/payflow/internal/event"
	"github.com/fedotovmax/payflow/internal/outbox"
	"github.com/fedotovmax/payflow/internal/payment"
	"github.com/fedotovmax/payflow/pkg/logger"
)

type fakeOutbox struct {
	counts  map[outbox.Status]int64
	records []*outbox.Record
	err     error

	gotStatus outbox.Status
	gotLimit  int
}

func (f *fakeOutbox) CountByStatus(_ context.Context, status outbox.Status) (int64, error) {
	return f.counts[status], f.err
}

func (f *fakeOutbox) FindByStatus(_ context.Context, status outbox.Status, limit int) ([]*outbox.Record, error) {
	f.gotStatus, f.gotLimit = status, limit
	return f.records, f.err
}

type fakeRetry struct{}

func (fakeRetry) Size(context.Context) (int64, int64, int64, error) {
	return 3, 2, 1, nil
}

type fakePayments struct {
	order *payment.PaymentOrder
	err   error
	cmd   payment.CreateCommand
}

func (f *fakePayments) CreatePaymentOrder(_ context.Context, cmd payment.CreateCommand) (*payment.PaymentOrder, error) {
	f.cmd = cmd
	return f.order, f.err
}

func (f *fakePayments) GetPaymentOrder(context.Context, string) (*payment.PaymentOrder, error) {
	return f.order, f.err
}

func (f *fakePayments) DeclinePaymentOrder(_ context.Context, _ string, reason string) (*payment.PaymentOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := *f.order
	o.Status = payment.StatusDeclined
	o.RetryReason = reason
	return &o, nil
}

func testOrder() *payment.PaymentOrder {
	at := time.Date(2025, 4, 5, 6, 7, 8, 0, time.UTC)
	return &payment.PaymentOrder{
		PaymentOrderID:       77,
		PublicPaymentOrderID: payment.PublicID(77),
		PaymentID:            76,
		SellerID:             "seller-1",
		BuyerID:              "buyer-1",
		Amount:               event.Amount{Value: 1000, Currency: "EUR"},
		Status:               payment.StatusInitiated,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestAdmin_Health(t *testing.T) {
	ok := HealthCheck{Name: "postgres", Check: func(context.Context) error { return nil }}
	down := HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	rec, body := do(t, newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{}, ok), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["postgres"])

	rec, body = do(t, newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{}, ok, down), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "connection refused", body["redis"])
}

func TestAdmin_OutboxStats(t *testing.T) {
	ob := &fakeOutbox{counts: map[outbox.Status]int64{outbox.StatusNew: 4, outbox.StatusFailed: 1}}
	h := newAdminRouter(logger.Discard(), ob, fakeRetry{}, &fakePayments{})

	rec, body := do(t, h, http.MethodGet, "/v1/outbox/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["NEW"])
	assert.Equal(t, float64(0), body["SENT"])
	assert.Equal(t, float64(1), body["FAILED"])
}

func TestAdmin_OutboxRecords(t *testing.T) {
	ob := &fakeOutbox{records: []*outbox.Record{{
		ID:          9,
		EventType:   "payment_order_created",
		AggregateID: "paymentorder-1",
		Payload:     []byte(`{"eventId":"e-1"}`),
		Status:      outbox.StatusFailed,
	}}}
	h := newAdminRouter(logger.Discard(), ob, fakeRetry{}, &fakePayments{})

	rec, body := do(t, h, http.MethodGet, "/v1/outbox/records?status=failed&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, outbox.StatusFailed, ob.gotStatus)
	assert.Equal(t, 10, ob.gotLimit)

	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "9", item["id"])
	assert.Equal(t, "e-1", item["payload"].(map[string]any)["eventId"])

	rec, _ = do(t, h, http.MethodGet, "/v1/outbox/records?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RetryStats(t *testing.T) {
	h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{})

	rec, body := do(t, h, http.MethodGet, "/v1/retry/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["due"])
	assert.Equal(t, float64(2), body["inflight"])
	assert.Equal(t, float64(1), body["dead"])
}

func TestAdmin_CreatePaymentOrder(t *testing.T) {
	p := &fakePayments{order: testOrder()}
	h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, p)

	rec, body := do(t, h, http.MethodPost, "/v1/payment-orders",
		`{"checkoutOrderId":"c-1","buyerId":"buyer-1","sellerId":"seller-1","amount":1000,"currency":"eur"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "EUR", p.cmd.Currency)
	assert.Equal(t, int64(1000), p.cmd.Amount)
	assert.Equal(t, "paymentorder-77", body["publicPaymentOrderId"])
	assert.Equal(t, "77", body["paymentOrderId"])
	assert.Equal(t, "INITIATED", body["status"])
}

func TestAdmin_CreatePaymentOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
		{name: "invalid command", body: `{}`, err: fmt.Errorf("op: %w", payment.ErrInvalidCommand), code: http.StatusUnprocessableEntity},
		{name: "storage", body: `{}`, err: errors.New("db down"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{err: tt.err})

			rec, _ := do(t, h, http.MethodPost, "/v1/payment-orders", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestAdmin_GetPaymentOrder(t *testing.T) {
	h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{order: testOrder()})

	rec, body := do(t, h, http.MethodGet, "/v1/payment-orders/paymentorder-77", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seller-1", body["sellerId"])

	h = newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{err: payment.ErrOrderNotFound})

	rec, _ = do(t, h, http.MethodGet, "/v1/payment-orders/paymentorder-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_DeclinePaymentOrder(t *testing.T) {
	h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{order: testOrder()})

	rec, body := do(t, h, http.MethodPost, "/v1/payment-orders/paymentorder-77/decline", `{"reason":"fraud review"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DECLINED", body["status"])
	assert.Equal(t, "fraud review", body["retryReason"])

	rec, _ = do(t, h, http.MethodPost, "/v1/payment-orders/paymentorder-77/decline", `{"reason":" "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h = newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{err: payment.ErrTerminalStatus})

	rec, _ = do(t, h, http.MethodPost, "/v1/payment-orders/paymentorder-77/decline", `{"reason":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdmin_Metrics(t *testing.T) {
	h := newAdminRouter(logger.Discard(), &fakeOutbox{}, fakeRetry{}, &fakePayments{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
