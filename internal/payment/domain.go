package payment

import (
	"strconv"
	"strings"
	"time"

	"github.com/fedotovmax/payflow/internal/event"
)

type Status string

const (
	StatusInitiated       Status = "INITIATED"
	StatusPending         Status = "PENDING"
	StatusFailed          Status = "FAILED"
	StatusSuccessful      Status = "SUCCESSFUL"
	StatusFinalizedFailed Status = "FINALIZED_FAILED"
	StatusDeclined        Status = "DECLINED"
)

var terminalStatuses = []Status{StatusSuccessful, StatusFinalizedFailed, StatusDeclined}

func (s Status) IsTerminal() bool {
	for _, t := range terminalStatuses {
		if s == t {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

type PaymentOrder struct {
	PaymentOrderID       int64
	PublicPaymentOrderID string
	PaymentID            int64
	SellerID             string
	BuyerID              string
	Amount               event.Amount
	Status               Status
	RetryCount           int
	RetryReason          string
	LastErrorMessage     string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const publicIDPrefix = "paymentorder-"

func PublicID(paymentOrderID int64) string {
	return publicIDPrefix + strconv.FormatInt(paymentOrderID, 10)
}

// ParsePublicID is the inverse of PublicID.
func ParsePublicID(publicID string) (int64, bool) {
	raw, ok := strings.CutPrefix(publicID, publicIDPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (o *PaymentOrder) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// MarkForRetry records a failed attempt that will be charged again.
func (o *PaymentOrder) MarkForRetry(reason, lastErr string, now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminalStatus
	}
	o.RetryCount++
	o.Status = StatusFailed
	o.RetryReason = reason
	o.LastErrorMessage = lastErr
	o.UpdatedAt = now
	return nil
}

// MarkPendingCheck records an attempt whose outcome is asked for again.
// It counts towards the retry limit like a charge retry.
func (o *PaymentOrder) MarkPendingCheck(pspStatus string, now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminalStatus
	}
	o.RetryCount++
	o.Status = StatusPending
	o.RetryReason = pspStatus
	o.UpdatedAt = now
	return nil
}

func (o *PaymentOrder) MarkSucceeded(now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminalStatus
	}
	o.Status = StatusSuccessful
	o.UpdatedAt = now
	return nil
}

func (o *PaymentOrder) MarkFinalizedFailed(reason, lastErr string, now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminalStatus
	}
	o.Status = StatusFinalizedFailed
	o.RetryReason = reason
	if lastErr != "" {
		o.LastErrorMessage = lastErr
	}
	o.UpdatedAt = now
	return nil
}

// MarkDeclined is used by operator tooling that declines an order outright.
func (o *PaymentOrder) MarkDeclined(reason string, now time.Time) error {
	if o.IsTerminal() {
		return ErrTerminalStatus
	}
	o.Status = StatusDeclined
	o.RetryReason = reason
	o.UpdatedAt = now
	return nil
}
