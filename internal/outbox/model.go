package outbox

import (
	"encoding/json"
	"time"

	"github.com/fedotovmax/payflow/internal/event"
)

type Status string

func (s Status) String() string {
	return string(s)
}

const StatusNew Status = "NEW"
const StatusProcessing Status = "PROCESSING"
const StatusSent Status = "SENT"

// StatusFailed holds records that can never be published (unknown type,
// undecodable payload). They are kept for inspection, not retried.
const StatusFailed Status = "FAILED"

type Record struct {
	ID          int64
	EventType   string
	AggregateID string
	Payload     json.RawMessage
	Status      Status
	CreatedAt   time.Time
	// Not claimed before this instant; zero means CreatedAt
	AvailableAt time.Time
	ClaimedAt   *time.Time
	ClaimedBy   *string
}

type IDAllocator interface {
	NextID(shardID int) (int64, error)
}

type RecordOption func(*Record)

// AvailableAfter holds the record back from dispatch for d after the
// envelope timestamp.
func AvailableAfter(d time.Duration) RecordOption {
	return func(r *Record) {
		r.AvailableAt = r.CreatedAt.Add(d)
	}
}

// NewRecord serializes env into a NEW record with the given id.
func NewRecord[T any](id int64, env event.Envelope[T], opts ...RecordOption) (*Record, error) {
	b, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	r := &Record{
		ID:          id,
		EventType:   env.EventType,
		AggregateID: env.AggregateID,
		Payload:     b,
		Status:      StatusNew,
		CreatedAt:   env.Timestamp,
		AvailableAt: env.Timestamp,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func recordIDs(records []*Record) []int64 {
	ids := make([]int64, len(records))
	for i := 0; i < len(records); i++ {
		ids[i] = records[i].ID
	}
	return ids
}
