package psp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Result is what a PSP call produced. Err is set for transport failures and
// for outcomes derived by the caller (timeout, panic).
type Result struct {
	Status Status
	Err    error
}

// LateResultHandler observes a PSP answer that arrived after Call returned.
// It may be invoked concurrently and must not change order state twice.
type LateResultHandler interface {
	HandleLateResult(ctx context.Context, orderID string, res Result)
}

type LateResultFunc func(ctx context.Context, orderID string, res Result)

func (f LateResultFunc) HandleLateResult(ctx context.Context, orderID string, res Result) {
	f(ctx, orderID, res)
}

type CallerConfig struct {
	// Foreground wait; past it Call returns PSP_TIMEOUT
	Timeout time.Duration
	// Hard limit for the underlying call, running on after the foreground gave up
	BackgroundTimeout time.Duration
}

func validateCallerConfig(cfg *CallerConfig) {
	const defaultTimeout = time.Second * 2
	const defaultBackgroundTimeout = time.Second * 30

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = defaultBackgroundTimeout
	}

	if cfg.BackgroundTimeout < cfg.Timeout {
		cfg.BackgroundTimeout = cfg.Timeout
	}
}

// BoundedCaller runs PSP calls so the caller never waits past Timeout.
type BoundedCaller struct {
	log  *slog.Logger
	cfg  CallerConfig
	late LateResultHandler
}

func NewBoundedCaller(l *slog.Logger, cfg CallerConfig, late LateResultHandler) *BoundedCaller {
	validateCallerConfig(&cfg)
	return &BoundedCaller{
		log:  l,
		cfg:  cfg,
		late: late,
	}
}

// Call runs fn on its own goroutine. When fn answers within Timeout its
// result is returned. Otherwise Call returns PSP_TIMEOUT with ErrCallTimeout
// and fn keeps running until BackgroundTimeout; its eventual answer goes to
// the LateResultHandler. A panic in fn is a TRANSIENT_ERROR.
func (c *BoundedCaller) Call(ctx context.Context, orderID string, fn func(ctx context.Context) (Status, error)) Result {
	const op = "psp.caller.Call"

	log := c.log.With(slog.String("op", op), slog.String("payment_order_id", orderID))

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BackgroundTimeout)

	done := make(chan Result, 1)

	go func() {
		defer cancel()
		done <- c.run(callCtx, fn)
	}()

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		log.WarnContext(ctx, "psp call exceeded foreground timeout", slog.Duration("timeout", c.cfg.Timeout))
		go c.awaitLate(ctx, orderID, done)
		return Result{Status: StatusTimeout, Err: fmt.Errorf("%s: %w", op, ErrCallTimeout)}
	case <-ctx.Done():
		go c.awaitLate(ctx, orderID, done)
		return Result{Status: StatusTransientError, Err: fmt.Errorf("%s: %w: %v", op, ErrCallCancelled, ctx.Err())}
	}
}

func (c *BoundedCaller) run(ctx context.Context, fn func(ctx context.Context) (Status, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusTransientError, Err: fmt.Errorf("%w: %v", ErrCallPanicked, r)}
		}
	}()

	st, err := fn(ctx)
	if err != nil {
		if st == "" {
			st = StatusTransientError
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				st = StatusTimeout
			}
		}
		return Result{Status: ParseStatus(string(st)), Err: err}
	}

	return Result{Status: ParseStatus(string(st))}
}

func (c *BoundedCaller) awaitLate(ctx context.Context, orderID string, done <-chan Result) {
	res := <-done
	if c.late == nil {
		return
	}
	c.late.HandleLateResult(context.WithoutCancel(ctx), orderID, res)
}
