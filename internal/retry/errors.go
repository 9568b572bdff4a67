package retry

import "errors"

var ErrRedis = errors.New("retry queue unavailable")

var ErrMalformedItem = errors.New("retry item can not be decoded")

var ErrChunkNotPublished = errors.New("retry chunk not published")
