package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fedotovmax/payflow/internal/event"
)

const (
	DueKey      = "retry:due"
	InflightKey = "retry:inflight"
	DeadKey     = "retry:dead"

	counterKeyPrefix = "retry:count:"
)

func counterKey(aggregateID string) string {
	return counterKeyPrefix + aggregateID
}

// Moves due members to inflight, stamped with the claim time.
// KEYS[1] due, KEYS[2] inflight, ARGV[1] now, ARGV[2] limit
var pollScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(items) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('ZADD', KEYS[2], ARGV[1], member)
end
return items
`)

// Moves inflight members claimed before the cutoff back to due.
// KEYS[1] inflight, KEYS[2] due, ARGV[1] cutoff, ARGV[2] now
var reclaimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, member in ipairs(items) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('ZADD', KEYS[2], ARGV[2], member)
end
return #items
`)

// Item is one retry request held in Redis. Raw is the sorted set member.
type Item struct {
	Raw      string
	Envelope event.Envelope[event.PaymentOrderRetryRequested]
	Score    int64
}

type Scheduler struct {
	rdb redis.UniversalClient
	log *slog.Logger
	now func() time.Time
}

type SchedulerOption func(*Scheduler)

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(rdb redis.UniversalClient, l *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		rdb: rdb,
		log: l,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleRetry bumps the order's retry counter and queues a retry request
// due after backoff. Both writes go in one MULTI. The envelope's parent is
// the event being handled in ctx, when there is one.
func (s *Scheduler) ScheduleRetry(ctx context.Context, req event.PaymentOrderRetryRequested, backoff time.Duration, reason, lastErr string) error {
	const op = "retry.redis.ScheduleRetry"

	req.RetryReason = reason
	req.LastErrorMessage = lastErr

	now := s.now()

	env, err := event.New(ctx, event.PaymentOrderRetryRequestedEvent, req.PublicPaymentOrderID, req,
		event.WithClock(func() time.Time { return now }))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	dueAt := now.Add(backoff).UnixMilli()

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, counterKey(req.PublicPaymentOrderID))
		pipe.ZAdd(ctx, DueKey, redis.Z{Score: float64(dueAt), Member: string(raw)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return nil
}

// PollDueToInflight atomically moves up to max due items to inflight and
// returns them. Members that do not decode are moved on to the dead set.
func (s *Scheduler) PollDueToInflight(ctx context.Context, max int) ([]Item, error) {
	const op = "retry.redis.PollDueToInflight"

	log := s.log.With(slog.String("op", op))

	now := s.now().UnixMilli()

	raws, err := pollScript.Run(ctx, s.rdb, []string{DueKey, InflightKey}, now, max).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	items := make([]Item, 0, len(raws))

	for _, raw := range raws {
		item, err := decodeItem(raw, now)
		if err != nil {
			log.ErrorContext(ctx, "moving retry item to dead set", slog.String("error", err.Error()))
			if dlErr := s.DeadLetter(ctx, item); dlErr != nil {
				log.ErrorContext(ctx, "dead letter failed", slog.String("error", dlErr.Error()))
			}
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// decodeItem always returns the raw member so a malformed item can still be
// dead-lettered.
func decodeItem(raw string, score int64) (Item, error) {
	item := Item{Raw: raw, Score: score}

	env, err := event.PaymentOrderRetryRequestedEvent.Decode([]byte(raw))
	if err != nil {
		return item, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}

	item.Envelope = env
	return item, nil
}

// RemoveFromInflight forgets items whose publish has committed.
func (s *Scheduler) RemoveFromInflight(ctx context.Context, items ...Item) error {
	const op = "retry.redis.RemoveFromInflight"

	if len(items) == 0 {
		return nil
	}

	members := make([]any, len(items))
	for i := range items {
		members[i] = items[i].Raw
	}

	if err := s.rdb.ZRem(ctx, InflightKey, members...).Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return nil
}

// ReclaimInflight returns inflight items claimed more than olderThan ago to
// the due set, due immediately.
func (s *Scheduler) ReclaimInflight(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "retry.redis.ReclaimInflight"

	now := s.now()
	cutoff := now.Add(-olderThan).UnixMilli()

	n, err := reclaimScript.Run(ctx, s.rdb, []string{InflightKey, DueKey}, cutoff, now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return n, nil
}

// DeadLetter parks an inflight item in the dead set for manual inspection.
func (s *Scheduler) DeadLetter(ctx context.Context, item Item) error {
	const op = "retry.redis.DeadLetter"

	now := s.now().UnixMilli()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, InflightKey, item.Raw)
		pipe.ZAdd(ctx, DeadKey, redis.Z{Score: float64(now), Member: item.Raw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return nil
}

func (s *Scheduler) RetryCount(ctx context.Context, aggregateID string) (int, error) {
	const op = "retry.redis.RetryCount"

	n, err := s.rdb.Get(ctx, counterKey(aggregateID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return n, nil
}

func (s *Scheduler) ResetRetryCounter(ctx context.Context, aggregateID string) error {
	const op = "retry.redis.ResetRetryCounter"

	if err := s.rdb.Del(ctx, counterKey(aggregateID)).Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return nil
}

// Size reports the cardinality of the due, inflight and dead sets.
func (s *Scheduler) Size(ctx context.Context) (due, inflight, dead int64, err error) {
	const op = "retry.redis.Size"

	pipe := s.rdb.Pipeline()
	dueCmd := pipe.ZCard(ctx, DueKey)
	inflightCmd := pipe.ZCard(ctx, InflightKey)
	deadCmd := pipe.ZCard(ctx, DeadKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, fmt.Errorf("%s: %w: %v", op, ErrRedis, err)
	}

	return dueCmd.Val(), inflightCmd.Val(), deadCmd.Val(), nil
}
