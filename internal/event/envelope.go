package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Envelope wraps a payload with correlation and routing metadata.
// It is a value: build it with New and never modify it afterwards.
type Envelope[T any] struct {
	EventID       string    `json:"eventId"`
	ParentEventID string    `json:"parentEventId"`
	TraceID       string    `json:"traceId"`
	EventType     string    `json:"eventType"`
	AggregateID   string    `json:"aggregateId"`
	Data          T         `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
}

type envelopeOptions struct {
	parentEventID string
	traceID       string
	deterministic bool
	now           func() time.Time
}

type Option func(*envelopeOptions)

func WithParent(eventID string) Option {
	return func(o *envelopeOptions) {
		o.parentEventID = eventID
	}
}

func WithTraceID(traceID string) Option {
	return func(o *envelopeOptions) {
		o.traceID = traceID
	}
}

// Deterministic derives the event id from the event type and payload, so a
// replay of the same fact yields the same id and downstream dedup works.
func Deterministic() Option {
	return func(o *envelopeOptions) {
		o.deterministic = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *envelopeOptions) {
		o.now = now
	}
}

// New builds an envelope. Parent and trace ids not given explicitly are taken
// from the correlation stored in ctx, then from the active span, and are
// generated otherwise. A root envelope is its own parent.
func New[T any](ctx context.Context, m Metadata[T], aggregateID string, data T, opts ...Option) (Envelope[T], error) {
	const op = "event.New"

	o := envelopeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	corr := CorrelationFrom(ctx)

	eventID := uuid.NewString()
	if o.deterministic {
		id, err := DeterministicEventID(m.EventType, data)
		if err != nil {
			return Envelope[T]{}, fmt.Errorf("%s: %w", op, err)
		}
		eventID = id
	}

	parent := o.parentEventID
	if parent == "" {
		parent = corr.EventID
	}
	if parent == "" {
		parent = eventID
	}

	traceID := o.traceID
	if traceID == "" {
		traceID = corr.TraceID
	}
	if traceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return Envelope[T]{
		EventID:       eventID,
		ParentEventID: parent,
		TraceID:       traceID,
		EventType:     m.EventType,
		AggregateID:   aggregateID,
		Data:          data,
		Timestamp:     o.now().UTC(),
	}, nil
}

// DeterministicEventID is a name-based uuid over the event type and the JSON payload.
func DeterministicEventID(eventType string, data any) (string, error) {
	const op = "event.DeterministicEventID"

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrSerialization, err)
	}

	name := make([]byte, 0, len(eventType)+1+len(b))
	name = append(name, eventType...)
	name = append(name, ':')
	name = append(name, b...)

	return uuid.NewSHA1(uuid.NameSpaceOID, name).String(), nil
}

// Correlation is the correlation of an envelope as seen by code handling it.
func (e Envelope[T]) Correlation() Correlation {
	return Correlation{
		TraceID:       e.TraceID,
		EventID:       e.EventID,
		ParentEventID: e.ParentEventID,
	}
}

func (e Envelope[T]) Marshal() ([]byte, error) {
	const op = "event.Envelope.Marshal"

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%s: event_id: %s: %w: %v", op, e.EventID, ErrSerialization, err)
	}

	return b, nil
}

func Unmarshal[T any](b []byte) (Envelope[T], error) {
	const op = "event.Unmarshal"

	var env Envelope[T]

	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("%s: %w: %v", op, ErrMalformedEnvelope, err)
	}

	if err := validateHeader(env.EventID, env.EventType); err != nil {
		return Envelope[T]{}, fmt.Errorf("%s: %w", op, err)
	}

	if env.ParentEventID == "" {
		env.ParentEventID = env.EventID
	}

	return env, nil
}

func validateHeader(eventID, eventType string) error {
	if eventID == "" {
		return fmt.Errorf("%w: event id is empty", ErrMalformedEnvelope)
	}
	if eventType == "" {
		return fmt.Errorf("%w: event type is empty", ErrMalformedEnvelope)
	}
	return nil
}
