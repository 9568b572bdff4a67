package psp

import "errors"

var ErrCallTimeout = errors.New("psp call did not answer in time")

var ErrCallPanicked = errors.New("psp call panicked")

var ErrCallCancelled = errors.New("psp call cancelled")

var ErrBadResponse = errors.New("unexpected psp response")
