package event

import (
	"fmt"
	"sort"
)

const (
	HeaderTraceID       = "traceId"
	HeaderEventID       = "eventId"
	HeaderEventType     = "eventType"
	HeaderParentEventID = "parentEventId"
)

// Message is an envelope ready for the broker.
type Message struct {
	Topic         string
	Key           string
	Value         []byte
	EventID       string
	EventType     string
	TraceID       string
	ParentEventID string
	AggregateID   string
}

// Metadata describes one event type: where it goes and how it is keyed.
// PartitionKey picks the entity whose events must stay ordered; when nil the
// envelope's aggregate id is the key.
type Metadata[T any] struct {
	EventType    string
	Topic        string
	PartitionKey func(T) string
}

func (m Metadata[T]) Key(env Envelope[T]) string {
	if m.PartitionKey == nil {
		return env.AggregateID
	}
	return m.PartitionKey(env.Data)
}

func (m Metadata[T]) Message(env Envelope[T]) (Message, error) {
	const op = "event.Metadata.Message"

	if env.EventType != m.EventType {
		return Message{}, fmt.Errorf("%s: %w: got %q, want %q", op, ErrEventTypeMismatch, env.EventType, m.EventType)
	}

	key := m.Key(env)
	if key == "" {
		return Message{}, fmt.Errorf("%s: event_id: %s: %w", op, env.EventID, ErrMissingPartitionKey)
	}

	b, err := env.Marshal()
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	return Message{
		Topic:         m.Topic,
		Key:           key,
		Value:         b,
		EventID:       env.EventID,
		EventType:     env.EventType,
		TraceID:       env.TraceID,
		ParentEventID: env.ParentEventID,
		AggregateID:   env.AggregateID,
	}, nil
}

func (m Metadata[T]) Decode(b []byte) (Envelope[T], error) {
	const op = "event.Metadata.Decode"

	env, err := Unmarshal[T](b)
	if err != nil {
		return Envelope[T]{}, fmt.Errorf("%s: %w", op, err)
	}

	if env.EventType != m.EventType {
		return Envelope[T]{}, fmt.Errorf("%s: %w: got %q, want %q", op, ErrEventTypeMismatch, env.EventType, m.EventType)
	}

	return env, nil
}

// Descriptor is the type-erased form of Metadata, for code that handles
// payloads of many event types read from one place (the outbox table).
type Descriptor struct {
	EventType string
	Topic     string
	message   func(payload []byte) (Message, error)
}

func Describe[T any](m Metadata[T]) Descriptor {
	return Descriptor{
		EventType: m.EventType,
		Topic:     m.Topic,
		message: func(payload []byte) (Message, error) {
			env, err := m.Decode(payload)
			if err != nil {
				return Message{}, err
			}
			return m.Message(env)
		},
	}
}

type Registry struct {
	byType map[string]Descriptor
}

func NewRegistry(ds ...Descriptor) (*Registry, error) {
	const op = "event.NewRegistry"

	r := &Registry{byType: make(map[string]Descriptor, len(ds))}

	for _, d := range ds {
		if d.EventType == "" || d.Topic == "" || d.message == nil {
			return nil, fmt.Errorf("%s: incomplete descriptor for %q", op, d.EventType)
		}
		if _, ok := r.byType[d.EventType]; ok {
			return nil, fmt.Errorf("%s: %w: %s", op, ErrDuplicateEventType, d.EventType)
		}
		r.byType[d.EventType] = d
	}

	return r, nil
}

func (r *Registry) Lookup(eventType string) (Descriptor, bool) {
	d, ok := r.byType[eventType]
	return d, ok
}

// Message turns a serialized envelope of the given type into a broker message.
func (r *Registry) Message(eventType string, payload []byte) (Message, error) {
	const op = "event.Registry.Message"

	d, ok := r.byType[eventType]
	if !ok {
		return Message{}, fmt.Errorf("%s: %w: %s", op, ErrUnknownEventType, eventType)
	}

	msg, err := d.message(payload)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	return msg, nil
}

func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.byType))
	for _, d := range r.byType {
		topics = append(topics, d.Topic)
	}
	sort.Strings(topics)
	return topics
}
