package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type ChargeRequest struct {
	PaymentOrderID       int64  `json:"paymentOrderId,string"`
	PublicPaymentOrderID string `json:"publicPaymentOrderId"`
	SellerID             string `json:"sellerId"`
	AmountValue          int64  `json:"amount"`
	Currency             string `json:"currency"`
	Attempt              int    `json:"attempt"`
}

// IdempotencyKey is unique per attempt, so a retry is a fresh charge and a
// replayed attempt is recognised by the PSP.
func (r ChargeRequest) IdempotencyKey() string {
	return r.PublicPaymentOrderID + ":" + strconv.Itoa(r.Attempt)
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Status, error)
	ChargeRetry(ctx context.Context, req ChargeRequest) (Status, error)
	CheckStatus(ctx context.Context, publicPaymentOrderID string) (Status, error)
}

type statusResponse struct {
	Status string `json:"status"`
}

// HTTPGateway talks to a PSP exposing a small JSON API:
// POST /charges, POST /charges/retry, GET /charges/{id}/status.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (Status, error) {
	return g.post(ctx, "/charges", req)
}

func (g *HTTPGateway) ChargeRetry(ctx context.Context, req ChargeRequest) (Status, error) {
	return g.post(ctx, "/charges/retry", req)
}

func (g *HTTPGateway) CheckStatus(ctx context.Context, publicPaymentOrderID string) (Status, error) {
	const op = "psp.gateway.CheckStatus"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/charges/"+url.PathEscape(publicPaymentOrderID)+"/status", nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	st, err := g.do(httpReq)
	if err != nil {
		return st, fmt.Errorf("%s: %w", op, err)
	}

	return st, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, req ChargeRequest) (Status, error) {
	const op = "psp.gateway.post"

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey())

	st, err := g.do(httpReq)
	if err != nil {
		return st, fmt.Errorf("%s: %s: %w", op, path, err)
	}

	return st, nil
}

// do maps transport failures to transient codes; the body decides otherwise.
func (g *HTTPGateway) do(req *http.Request) (Status, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway:
		return StatusUnavailable, fmt.Errorf("%w: http %d", ErrBadResponse, resp.StatusCode)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return StatusTimeout, fmt.Errorf("%w: http %d", ErrBadResponse, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return StatusTransientError, fmt.Errorf("%w: http %d", ErrBadResponse, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return StatusTransientError, err
	}

	var sr statusResponse
	if err := json.Unmarshal(b, &sr); err != nil {
		return StatusUnknown, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return ParseStatus(sr.Status), nil
}
