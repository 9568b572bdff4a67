package payment

import (
	"github.com/fedotovmax/payflow/internal/psp"
	"github.com/fedotovmax/payflow/internal/retry"
)

type Config struct {
	// Attempts (charge retries and status checks together) before an order
	// is finalized as failed, min = 1
	MaxRetry int
	Backoff  retry.Backoff
	Caller   psp.CallerConfig
}

func validateConfig(cfg *Config) {
	const defaultMaxRetry = 5

	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMaxRetry
	}

	def := retry.DefaultBackoff()

	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = def.Base
	}

	if cfg.Backoff.Max < cfg.Backoff.Base {
		cfg.Backoff.Max = max(def.Max, cfg.Backoff.Base)
	}

	if cfg.Backoff.Jitter < 0 {
		cfg.Backoff.Jitter = 0
	}
}
