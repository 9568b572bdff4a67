package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedotovmax/payflow/internal/idgen"
)

func TestMetadata_Message(t *testing.T) {
	t.Parallel()

	env, err := New(context.Background(), LedgerRecordRequestedEvent, "paymentorder-1", LedgerRecordRequested{
		PaymentOrderID:       1,
		PublicPaymentOrderID: "paymentorder-1",
		SellerID:             "seller-9",
		Status:               "SUCCESSFUL",
	})
	require.NoError(t, err)

	msg, err := LedgerRecordRequestedEvent.Message(env)
	require.NoError(t, err)

	assert.Equal(t, LedgerRecordRequestedEvent.Topic, msg.Topic)
	assert.Equal(t, idgen.SellerPartitionKey("seller-9"), msg.Key)
	assert.Equal(t, env.EventID, msg.EventID)
	assert.Equal(t, env.TraceID, msg.TraceID)
	assert.Equal(t, env.ParentEventID, msg.ParentEventID)
	assert.Equal(t, "paymentorder-1", msg.AggregateID)
	assert.NotEmpty(t, msg.Value)
}

func TestMetadata_MessageWithoutPartitionKeyUsesAggregate(t *testing.T) {
	t.Parallel()

	m := Metadata[Amount]{EventType: "amount_seen", Topic: "amount_topic"}

	env, err := New(context.Background(), m, "agg-1", Amount{Value: 1, Currency: "USD"})
	require.NoError(t, err)

	msg, err := m.Message(env)
	require.NoError(t, err)
	assert.Equal(t, "agg-1", msg.Key)

	empty, err := New(context.Background(), m, "", Amount{})
	require.NoError(t, err)
	_, err = m.Message(empty)
	assert.ErrorIs(t, err, ErrMissingPartitionKey)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()

	env, err := New(context.Background(), PaymentOrderCreatedEvent, "paymentorder-5", PaymentOrderCreated{
		PaymentOrderID:       5,
		PublicPaymentOrderID: "paymentorder-5",
	})
	require.NoError(t, err)
	b, err := env.Marshal()
	require.NoError(t, err)

	msg, err := r.Message(PaymentOrderCreatedEvent.EventType, b)
	require.NoError(t, err)
	assert.Equal(t, "paymentorder-5", msg.Key)
	assert.Equal(t, PaymentOrderCreatedEvent.Topic, msg.Topic)

	_, err = r.Message("nope", b)
	assert.ErrorIs(t, err, ErrUnknownEventType)

	_, err = r.Message(PaymentOrderFailedEvent.EventType, b)
	assert.ErrorIs(t, err, ErrEventTypeMismatch)

	_, ok := r.Lookup(PaymentOrderSucceededEvent.EventType)
	assert.True(t, ok)
	assert.Len(t, r.Topics(), 7)
}

func TestNewRegistry_Duplicate(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry(Describe(PaymentOrderCreatedEvent), Describe(PaymentOrderCreatedEvent))
	assert.ErrorIs(t, err, ErrDuplicateEventType)
}
