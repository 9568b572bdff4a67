package idgen

import "errors"

var ErrInvalidRegion = errors.New("region id out of range")

var ErrInvalidShard = errors.New("shard id out of range")
