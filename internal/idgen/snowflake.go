package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	sequenceBits = 12
	shardBits    = 5
	regionBits   = 5
	timeBits     = 41

	MaxShard  = 1<<shardBits - 1
	MaxRegion = 1<<regionBits - 1

	maxSequence  = 1<<sequenceBits - 1
	maxTimeDelta = 1<<timeBits - 1

	shardShift  = sequenceBits
	regionShift = sequenceBits + shardBits
	timeShift   = sequenceBits + shardBits + regionBits
)

// Epoch is the custom epoch of every id, 2024-01-01T00:00:00Z in unix millis.
const Epoch int64 = 1704067200000

type shardState struct {
	mu       sync.Mutex
	lastTime int64
	sequence int64
}

// Allocator hands out 64-bit ids laid out as
// timestamp_delta(41) | region(5) | shard(5) | sequence(12).
// Each shard has its own lock, so callers on different shards never contend.
type Allocator struct {
	region int64
	now    func() int64
	shards [MaxShard + 1]shardState
}

type Option func(*Allocator)

// WithClock replaces the wall clock. The function must return unix millis.
func WithClock(now func() int64) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

func NewAllocator(regionID int, opts ...Option) (*Allocator, error) {
	const op = "idgen.NewAllocator"

	if regionID < 0 || regionID > MaxRegion {
		return nil, fmt.Errorf("%s: %w: %d", op, ErrInvalidRegion, regionID)
	}

	a := &Allocator{
		region: int64(regionID),
		now:    func() int64 { return time.Now().UnixMilli() },
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *Allocator) Region() int {
	return int(a.region)
}

func (a *Allocator) NextID(shardID int) (int64, error) {
	const op = "idgen.Allocator.NextID"

	if shardID < 0 || shardID > MaxShard {
		return 0, fmt.Errorf("%s: %w: %d", op, ErrInvalidShard, shardID)
	}

	s := &a.shards[shardID]

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := a.now()

	// never move backward, even if the wall clock does
	if ts < s.lastTime {
		ts = s.lastTime
	}

	if ts == s.lastTime {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			ts = a.waitAfter(s.lastTime)
		}
	} else {
		s.sequence = 0
	}

	s.lastTime = ts

	delta := (ts - Epoch) & maxTimeDelta

	return delta<<timeShift |
		a.region<<regionShift |
		int64(shardID)<<shardShift |
		s.sequence, nil
}

func (a *Allocator) waitAfter(last int64) int64 {
	ts := a.now()
	for ts <= last {
		ts = a.now()
	}
	return ts
}

func ExtractShard(id int64) int {
	return int((id >> shardShift) & MaxShard)
}

func ExtractRegion(id int64) int {
	return int((id >> regionShift) & MaxRegion)
}

// ExtractTimestamp returns the unix millis the id was generated at.
func ExtractTimestamp(id int64) int64 {
	return (id>>timeShift)&maxTimeDelta + Epoch
}

func ExtractSequence(id int64) int {
	return int(id & maxSequence)
}
