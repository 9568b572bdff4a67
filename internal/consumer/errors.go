package consumer

import "errors"

var ErrHandlerPanicked = errors.New("message handler panicked")
