package event

import "errors"

var ErrMalformedEnvelope = errors.New("malformed envelope")

var ErrSerialization = errors.New("envelope serialization failed")

var ErrUnknownEventType = errors.New("unknown event type")

var ErrEventTypeMismatch = errors.New("event type mismatch")

var ErrDuplicateEventType = errors.New("event type registered twice")

var ErrMissingPartitionKey = errors.New("partition key is empty")
