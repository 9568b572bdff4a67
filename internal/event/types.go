package event

import (
	"time"

	"github.com/fedotovmax/payflow/internal/idgen"
)

type Amount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

type PaymentOrderCreated struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PaymentID            int64     `json:"paymentId,string"`
	SellerID             string    `json:"sellerId"`
	BuyerID              string    `json:"buyerId"`
	Amount               Amount    `json:"amount"`
	CreatedAt            time.Time `json:"createdAt"`
}

// PaymentOrderRetryRequested asks the consumers to re-attempt the charge.
type PaymentOrderRetryRequested struct {
	PaymentOrderID       int64  `json:"paymentOrderId,string"`
	PublicPaymentOrderID string `json:"publicPaymentOrderId"`
	PaymentID            int64  `json:"paymentId,string"`
	SellerID             string `json:"sellerId"`
	Amount               Amount `json:"amount"`
	RetryCount           int    `json:"retryCount"`
	RetryReason          string `json:"retryReason,omitempty"`
	LastErrorMessage     string `json:"lastErrorMessage,omitempty"`
}

// PaymentOrderStatusCheckRequested asks the consumers to query the PSP for
// the outcome of an attempt, without charging again.
type PaymentOrderStatusCheckRequested struct {
	PaymentOrderID       int64  `json:"paymentOrderId,string"`
	PublicPaymentOrderID string `json:"publicPaymentOrderId"`
	SellerID             string `json:"sellerId"`
	RetryCount           int    `json:"retryCount"`
	PspStatus            string `json:"pspStatus"`
}

type PaymentOrderSucceeded struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PaymentID            int64     `json:"paymentId,string"`
	SellerID             string    `json:"sellerId"`
	BuyerID              string    `json:"buyerId"`
	Amount               Amount    `json:"amount"`
	PspStatus            string    `json:"pspStatus"`
	FinalizedAt          time.Time `json:"finalizedAt"`
}

type PaymentOrderFailed struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PaymentID            int64     `json:"paymentId,string"`
	SellerID             string    `json:"sellerId"`
	Amount               Amount    `json:"amount"`
	PspStatus            string    `json:"pspStatus"`
	RetryCount           int       `json:"retryCount"`
	Reason               string    `json:"reason"`
	FinalizedAt          time.Time `json:"finalizedAt"`
}

// LedgerRecordRequested carries a finalized payment order to the ledger.
type LedgerRecordRequested struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PaymentID            int64     `json:"paymentId,string"`
	SellerID             string    `json:"sellerId"`
	BuyerID              string    `json:"buyerId"`
	Amount               Amount    `json:"amount"`
	Status               string    `json:"status"`
	FinalizedAt          time.Time `json:"finalizedAt"`
}

// PaymentOrderPspResultLate reports a PSP answer that arrived after the
// caller had already given up waiting. It is informational only.
type PaymentOrderPspResultLate struct {
	PaymentOrderID       int64     `json:"paymentOrderId,string"`
	PublicPaymentOrderID string    `json:"publicPaymentOrderId"`
	PspStatus            string    `json:"pspStatus"`
	Error                string    `json:"error,omitempty"`
	ObservedAt           time.Time `json:"observedAt"`
}

var PaymentOrderCreatedEvent = Metadata[PaymentOrderCreated]{
	EventType:    "payment_order_created",
	Topic:        "payment_order_created_topic",
	PartitionKey: func(p PaymentOrderCreated) string { return p.PublicPaymentOrderID },
}

var PaymentOrderRetryRequestedEvent = Metadata[PaymentOrderRetryRequested]{
	EventType:    "payment_order_retry_requested",
	Topic:        "payment_order_retry_request_topic",
	PartitionKey: func(p PaymentOrderRetryRequested) string { return p.PublicPaymentOrderID },
}

var PaymentOrderStatusCheckRequestedEvent = Metadata[PaymentOrderStatusCheckRequested]{
	EventType:    "payment_order_status_check_requested",
	Topic:        "payment_status_check_scheduler_topic",
	PartitionKey: func(p PaymentOrderStatusCheckRequested) string { return p.PublicPaymentOrderID },
}

var PaymentOrderSucceededEvent = Metadata[PaymentOrderSucceeded]{
	EventType:    "payment_order_succeeded",
	Topic:        "payment_order_succeeded_topic",
	PartitionKey: func(p PaymentOrderSucceeded) string { return p.PublicPaymentOrderID },
}

var PaymentOrderFailedEvent = Metadata[PaymentOrderFailed]{
	EventType:    "payment_order_failed",
	Topic:        "payment_order_failed_topic",
	PartitionKey: func(p PaymentOrderFailed) string { return p.PublicPaymentOrderID },
}

var LedgerRecordRequestedEvent = Metadata[LedgerRecordRequested]{
	EventType:    "ledger_record_requested",
	Topic:        "ledger_record_request_queue_topic",
	PartitionKey: func(p LedgerRecordRequested) string { return idgen.SellerPartitionKey(p.SellerID) },
}

var PaymentOrderPspResultLateEvent = Metadata[PaymentOrderPspResultLate]{
	EventType:    "payment_order_psp_result_late",
	Topic:        "payment_order_psp_result_late_topic",
	PartitionKey: func(p PaymentOrderPspResultLate) string { return p.PublicPaymentOrderID },
}

// DefaultRegistry knows every event type of the payment flow.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Describe(PaymentOrderCreatedEvent),
		Describe(PaymentOrderRetryRequestedEvent),
		Describe(PaymentOrderStatusCheckRequestedEvent),
		Describe(PaymentOrderSucceededEvent),
		Describe(PaymentOrderFailedEvent),
		Describe(LedgerRecordRequestedEvent),
		Describe(PaymentOrderPspResultLateEvent),
	)
	if err != nil {
		panic(err)
	}
	return r
}
