package payment

import "errors"

var ErrTerminalStatus = errors.New("payment order is already finalized")

var ErrOrderNotFound = errors.New("payment order not found")

// ErrStaleTransition means the stored order moved on since it was loaded:
// finalized by another delivery, or at a higher retry count.
var ErrStaleTransition = errors.New("payment order changed concurrently")

var ErrInvalidCommand = errors.New("invalid create payment order command")

var ErrInternal = errors.New("internal error")
