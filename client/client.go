// Package client implements the HTTP transport to the hosted
// search-and-answer service. It adapts chatsync's TurnRequest onto the
// service's chat endpoint and hands the raw SSE body back to the stream
// session; decoding is owned by the wire package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hupe1980/chatsync/core"
)

// Service endpoints relative to the base URL.
const (
	chatPath       = "/api/chat"
	skipSearchPath = "/api/skip-search"
)

// Options configure the HTTP backend client.
type Options struct {
	// HTTPClient performs the requests. No overall timeout is set on the
	// default client: a turn stream stays open for as long as generation
	// runs, and stream-closed is the de facto timeout signal.
	HTTPClient *http.Client
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// RequestTimeout bounds non-streaming requests (skip-search). Zero means
	// no timeout.
	RequestTimeout time.Duration
}

// Client is the core.Backend implementation over HTTP + SSE.
type Client struct {
	baseURL string
	opts    Options
}

var _ core.Backend = (*Client)(nil)

// New creates a backend client for the service at baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{HTTPClient: &http.Client{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{baseURL: baseURL, opts: opts}
}

// StartTurn opens the event stream for one turn. The returned body stays
// open until the stream ends or ctx is cancelled; callers own closing it.
// The reserved quota status code maps to core.ErrInsufficientCredits.
func (c *Client) StartTurn(ctx context.Context, req core.TurnRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.opts.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.AuthToken)
	}

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("turn request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		resp.Body.Close()
		return nil, core.ErrInsufficientCredits
	default:
		// Bounded read so a misbehaving error body cannot balloon the message.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("turn request rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
}

// SkipSearch asks the backend to abandon remaining search iterations for the
// given stream session and generate now.
func (c *Client) SkipSearch(ctx context.Context, sessionID string) error {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return fmt.Errorf("failed to encode skip request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+skipSearchPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build skip request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.AuthToken)
	}

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("skip request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("skip request rejected: status %d", resp.StatusCode)
	}
	return nil
}
