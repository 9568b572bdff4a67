package psp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedotovmax/payflow/pkg/logger"
)

func TestCall_ReturnsAnswerInTime(t *testing.T) {
	t.Parallel()

	c := NewBoundedCaller(logger.Discard(), CallerConfig{Timeout: time.Second}, nil)

	res := c.Call(context.Background(), "po-1", func(context.Context) (Status, error) {
		return StatusSuccessful, nil
	})

	assert.Equal(t, StatusSuccessful, res.Status)
	assert.NoError(t, res.Err)
}

func TestCall_TimeoutIsTransientAndLateResultObserved(t *testing.T) {
	t.Parallel()

	late := make(chan Result, 1)
	release := make(chan struct{})

	c := NewBoundedCaller(logger.Discard(), CallerConfig{Timeout: 20 * time.Millisecond, BackgroundTimeout: time.Second},
		LateResultFunc(func(_ context.Context, orderID string, res Result) {
			assert.Equal(t, "po-1", orderID)
			late <- res
		}))

	res := c.Call(context.Background(), "po-1", func(context.Context) (Status, error) {
		<-release
		return StatusSuccessful, nil
	})

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, ErrCallTimeout)
	assert.Equal(t, Retry, Classify(res.Status, 0, 3))

	close(release)

	select {
	case got := <-late:
		assert.Equal(t, StatusSuccessful, got.Status)
	case <-time.After(time.Second):
		t.Fatal("late result not delivered")
	}
}

func TestCall_PanicIsTransient(t *testing.T) {
	t.Parallel()

	c := NewBoundedCaller(logger.Discard(), CallerConfig{Timeout: time.Second}, nil)

	res := c.Call(context.Background(), "po-1", func(context.Context) (Status, error) {
		panic("psp client bug")
	})

	assert.Equal(t, StatusTransientError, res.Status)
	assert.ErrorIs(t, res.Err, ErrCallPanicked)
}

func TestCall_CancelledCallerIsTransient(t *testing.T) {
	t.Parallel()

	c := NewBoundedCaller(logger.Discard(), CallerConfig{Timeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := c.Call(ctx, "po-1", func(callCtx context.Context) (Status, error) {
		// the call itself does not inherit the caller's cancellation
		assert.NoError(t, callCtx.Err())
		time.Sleep(50 * time.Millisecond)
		return StatusSuccessful, nil
	})

	assert.Equal(t, StatusTransientError, res.Status)
	assert.ErrorIs(t, res.Err, ErrCallCancelled)
}

func TestCall_TransportErrorWithoutCode(t *testing.T) {
	t.Parallel()

	c := NewBoundedCaller(logger.Discard(), CallerConfig{Timeout: time.Second}, nil)

	res := c.Call(context.Background(), "po-1", func(context.Context) (Status, error) {
		return "", errors.New("connection refused")
	})
	assert.Equal(t, StatusTransientError, res.Status)

	res = c.Call(context.Background(), "po-1", func(context.Context) (Status, error) {
		return "", context.DeadlineExceeded
	})
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestHTTPGateway(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/charges":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "po-1:0", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"status":"SUCCESSFUL"}`))
		case "/charges/retry":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/charges/po-1/status":
			_, _ = w.Write([]byte(`{"status":"SOMETHING_ODD"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, time.Second)
	ctx := context.Background()
	req := ChargeRequest{PublicPaymentOrderID: "po-1", AmountValue: 100, Currency: "EUR"}

	st, err := g.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, st)

	st, err = g.ChargeRetry(ctx, req)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, StatusUnavailable, st)

	st, err = g.CheckStatus(ctx, "po-1")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)
}
