package retry

import "time"

type Config struct {
	// How often the dispatcher looks for due items
	PollInterval time.Duration
	// Items moved from due to inflight per tick, max = 5000
	PollBatch int
	// Items per transactional publish, never more than PollBatch
	ChunkSize int
	// Chunks published in parallel, min = 1, max = 32
	Workers        int
	PublishTimeout time.Duration
	// Inflight items older than InflightMaxAge go back to due every ReclaimInterval
	ReclaimInterval time.Duration
	InflightMaxAge  time.Duration
}

func validateConfig(cfg *Config) {
	const defaultPollInterval = time.Second
	const minPollInterval = time.Millisecond * 50

	const defaultPollBatch = 1000
	const maxPollBatch = 5000

	const defaultChunkSize = 300

	const minWorkers = 1
	const maxWorkers = 32

	const defaultPublishTimeout = time.Second * 10

	const defaultReclaimInterval = time.Second * 30
	const defaultInflightMaxAge = time.Second * 60

	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}

	if cfg.PollBatch <= 0 {
		cfg.PollBatch = defaultPollBatch
	}

	if cfg.PollBatch > maxPollBatch {
		cfg.PollBatch = maxPollBatch
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	if cfg.ChunkSize > cfg.PollBatch {
		cfg.ChunkSize = cfg.PollBatch
	}

	if cfg.Workers < minWorkers {
		cfg.Workers = minWorkers
	}

	if cfg.Workers > maxWorkers {
		cfg.Workers = maxWorkers
	}

	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = defaultReclaimInterval
	}

	if cfg.InflightMaxAge <= 0 {
		cfg.InflightMaxAge = defaultInflightMaxAge
	}
}

// DefaultBackoff is 1s, 2s, 4s ... capped at 5 minutes with up to 500ms jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Max:    time.Minute * 5,
		Jitter: time.Millisecond * 500,
	}
}
