package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func fixedClock() time.Time {
	return time.Date(2025, 3, 4, 5, 6, 7, 8000, time.UTC)
}

func sampleRetry() PaymentOrderRetryRequested {
	return PaymentOrderRetryRequested{
		PaymentOrderID:       42,
		PublicPaymentOrderID: "paymentorder-42",
		PaymentID:            7,
		SellerID:             "seller-1",
		Amount:               Amount{Value: 1999, Currency: "EUR"},
		RetryCount:           2,
		RetryReason:          "PSP_TIMEOUT",
	}
}

func TestNew_RootIsItsOwnParent(t *testing.T) {
	t.Parallel()

	env, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry(), WithClock(fixedClock))
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, env.EventID, env.ParentEventID)
	assert.NotEmpty(t, env.TraceID)
	assert.Equal(t, PaymentOrderRetryRequestedEvent.EventType, env.EventType)
	assert.Equal(t, fixedClock(), env.Timestamp)
}

func TestNew_InheritsCorrelationFromContext(t *testing.T) {
	t.Parallel()

	ctx := WithCorrelation(context.Background(), Correlation{TraceID: "trace-1", EventID: "cause-1"})

	env, err := New(ctx, PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry())
	require.NoError(t, err)

	assert.Equal(t, "trace-1", env.TraceID)
	assert.Equal(t, "cause-1", env.ParentEventID)
	assert.NotEqual(t, "cause-1", env.EventID)

	explicit, err := New(ctx, PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry(),
		WithParent("other"), WithTraceID("trace-2"))
	require.NoError(t, err)
	assert.Equal(t, "other", explicit.ParentEventID)
	assert.Equal(t, "trace-2", explicit.TraceID)
}

func TestNew_TraceIDFromSpanContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	env, err := New(ctx, PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry())
	require.NoError(t, err)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", env.TraceID)
}

func TestNew_DeterministicEventID(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry(), Deterministic())
	require.NoError(t, err)
	b, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry(), Deterministic())
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID)

	other := sampleRetry()
	other.RetryCount = 3
	c, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", other, Deterministic())
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, c.EventID)

	random, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry())
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, random.EventID)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	t.Parallel()

	env, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry(), WithClock(fixedClock))
	require.NoError(t, err)

	b, err := env.Marshal()
	require.NoError(t, err)

	got, err := PaymentOrderRetryRequestedEvent.Decode(b)
	require.NoError(t, err)

	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.ParentEventID, got.ParentEventID)
	assert.Equal(t, env.EventID, got.ParentEventID)
	assert.Equal(t, env.TraceID, got.TraceID)
	assert.Equal(t, env.AggregateID, got.AggregateID)
	assert.Equal(t, env.Data, got.Data)
	assert.True(t, env.Timestamp.Equal(got.Timestamp))
}

func TestUnmarshal_Malformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":      `{`,
		"no event id":   `{"eventType":"payment_order_created"}`,
		"no event type": `{"eventId":"e-1"}`,
	}

	for name, raw := range cases {
		_, err := Unmarshal[PaymentOrderCreated]([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, name)
	}
}

func TestUnmarshal_MissingParentDefaultsToSelf(t *testing.T) {
	t.Parallel()

	env, err := Unmarshal[PaymentOrderCreated]([]byte(`{"eventId":"e-1","eventType":"payment_order_created"}`))
	require.NoError(t, err)
	assert.Equal(t, "e-1", env.ParentEventID)
}

func TestDecode_TypeMismatch(t *testing.T) {
	t.Parallel()

	env, err := New(context.Background(), PaymentOrderRetryRequestedEvent, "paymentorder-42", sampleRetry())
	require.NoError(t, err)
	b, err := env.Marshal()
	require.NoError(t, err)

	_, err = PaymentOrderCreatedEvent.Decode(b)
	assert.ErrorIs(t, err, ErrEventTypeMismatch)
}

func TestCorrelation_NestedScopes(t *testing.T) {
	t.Parallel()

	outer := WithCorrelation(context.Background(), Correlation{TraceID: "t", EventID: "outer"})
	inner := WithCorrelation(outer, Correlation{TraceID: "t", EventID: "inner", ParentEventID: "outer"})

	assert.Equal(t, "inner", CorrelationFrom(inner).EventID)
	assert.Equal(t, "outer", CorrelationFrom(outer).EventID)
	assert.Equal(t, Correlation{}, CorrelationFrom(context.Background()))
}
