// Package settlement talks to the external settlement service that
// records a signable session artifact per room and closes it with the
// final value allocation. The signature-collection protocol lives
// entirely on the other side; this client only knows the open/close
// contract. Callers must tolerate either call failing: game outcome and
// pool state are finalized before settlement is attempted, so a failed
// call leaves an unclosed artifact to reconcile out of band, never a
// rolled-back game.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/identity"
)

var (
	// ErrRejected indicates the settlement service definitively refused
	// the request.
	ErrRejected = errors.New("settlement: request rejected")

	// ErrUnavailable indicates the settlement service is unreachable or
	// degraded. The call may be retried or reconciled later.
	ErrUnavailable = errors.New("settlement: unavailable")
)

// OpenRequest opens a session artifact at game start.
type OpenRequest struct {
	RoomID   string
	Player   identity.Address
	Operator identity.Address
	Deposit  decimal.Decimal
}

// CloseRequest closes a session artifact with the final allocation,
// ordered [playerShare, operatorShare].
type CloseRequest struct {
	RoomID      string
	Allocations [2]decimal.Decimal
}

// Client is the settlement collaborator contract.
type Client interface {
	OpenSession(ctx context.Context, req OpenRequest) error
	CloseSession(ctx context.Context, req CloseRequest) error
}

// HTTPClient settles via an external HTTP service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPClient creates a settlement client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type openPayload struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
	Deposit      string   `json:"deposit"`
}

type closePayload struct {
	RoomID      string   `json:"roomId"`
	Allocations []string `json:"allocations"`
}

type settlementResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) OpenSession(ctx context.Context, req OpenRequest) error {
	payload := openPayload{
		RoomID:       req.RoomID,
		Participants: []string{req.Player.String(), req.Operator.String()},
		Deposit:      req.Deposit.String(),
	}
	return c.post(ctx, "/sessions/open", payload)
}

func (c *HTTPClient) CloseSession(ctx context.Context, req CloseRequest) error {
	payload := closePayload{
		RoomID: req.RoomID,
		Allocations: []string{
			req.Allocations[0].String(),
			req.Allocations[1].String(),
		},
	}
	return c.post(ctx, "/sessions/close", payload)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Idempotency key so the service can dedupe a retried call.
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Decode below.
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	// Cap the response read to avoid pathological bodies.
	limited := io.LimitReader(resp.Body, 1<<20)

	var sr settlementResponse
	if err := json.NewDecoder(limited).Decode(&sr); err != nil {
		return fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	if !sr.OK {
		return fmt.Errorf("%w: %s", ErrRejected, sr.Error)
	}

	return nil
}

// Noop is a settlement client that records nothing. Used in dev mode
// and tests when no settlement service is configured.
type Noop struct{}

func (Noop) OpenSession(ctx context.Context, req OpenRequest) error   { return nil }
func (Noop) CloseSession(ctx context.Context, req CloseRequest) error { return nil }
