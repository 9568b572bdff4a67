package publisher

import "errors"

var ErrPublishTimeout = errors.New("publish timed out, the outcome is unknown")

var ErrPublishFailed = errors.New("broker transaction aborted")

var ErrNoProducer = errors.New("no transactional producer available")

var ErrEmptyBatch = errors.New("empty batch")
