package outbox

import "time"

type Config struct {
	// Records claimed per batch, min = 1, max = 500
	Limit int
	// Independent dispatch loops, min = 1, max = 32
	Workers  int
	Interval time.Duration
	// How long a PROCESSING claim is honoured before the reaper re-queues it
	LeaseTTL       time.Duration
	ReaperInterval time.Duration
	// Bound of one transactional publish of a batch
	PublishTimeout time.Duration
	// Timeout for claim, markSent and the other store round-trips
	ProcessTimeout  time.Duration
	BacklogInterval time.Duration
	// SENT and FAILED rows older than Retention are deleted every CleanupInterval.
	// Zero Retention disables the cleaner.
	CleanupInterval time.Duration
	Retention       time.Duration
	// Prefix of the claimed_by owner of every worker
	InstanceID string
}

func validateConfig(cfg *Config) {
	const minWorkers = 1
	const maxWorkers = 32

	const minLimit = 1
	const maxLimit = 500
	const defaultLimit = 100

	const minInterval = time.Millisecond * 10
	const defaultInterval = time.Millisecond * 200

	const minLease = time.Second
	const defaultLease = time.Second * 60

	const minPublishTimeout = time.Millisecond * 100
	const defaultPublishTimeout = time.Second * 10

	const minProcessTimeout = time.Millisecond * 100
	const defaultProcessTimeout = time.Second * 5

	const defaultBacklogInterval = time.Second * 10
	const defaultCleanupInterval = time.Hour

	if cfg.Workers < minWorkers {
		cfg.Workers = minWorkers
	}

	if cfg.Workers > maxWorkers {
		cfg.Workers = maxWorkers
	}

	if cfg.Limit == 0 {
		cfg.Limit = defaultLimit
	}

	if cfg.Limit < minLimit {
		cfg.Limit = minLimit
	}

	if cfg.Limit > maxLimit {
		cfg.Limit = maxLimit
	}

	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}

	if cfg.Interval < minInterval {
		cfg.Interval = minInterval
	}

	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = defaultLease
	}

	if cfg.LeaseTTL < minLease {
		cfg.LeaseTTL = minLease
	}

	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = cfg.LeaseTTL / 2
	}

	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	if cfg.PublishTimeout < minPublishTimeout {
		cfg.PublishTimeout = minPublishTimeout
	}

	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}

	if cfg.ProcessTimeout < minProcessTimeout {
		cfg.ProcessTimeout = minProcessTimeout
	}

	if cfg.BacklogInterval <= 0 {
		cfg.BacklogInterval = defaultBacklogInterval
	}

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = "outbox"
	}
}
