package consumer

import "time"

type Config struct {
	// Upper bound for handling one message
	ProcessTimeout time.Duration
	// Pause before rejoining the group after Consume returned an error
	RejoinBackoff time.Duration
}

func validateConfig(cfg *Config) {
	const defaultProcessTimeout = time.Second * 30
	const minProcessTimeout = time.Millisecond * 100

	const defaultRejoinBackoff = time.Second

	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}

	if cfg.ProcessTimeout < minProcessTimeout {
		cfg.ProcessTimeout = minProcessTimeout
	}

	if cfg.RejoinBackoff <= 0 {
		cfg.RejoinBackoff = defaultRejoinBackoff
	}
}
