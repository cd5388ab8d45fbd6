// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/morganforge/converse-tui/internal/auth"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxResponseSize caps response bodies to protect against memory
	// exhaustion from a misbehaving server.
	MaxResponseSize = 10 * 1024 * 1024

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3

	backoffBase = 500 * time.Millisecond
	backoffMax  = 10 * time.Second

	userAgent = "converse-tui/1.0"
)

// sharedHTTPClient is pooled across all Client instances. Non-streaming
// requests are bounded by the per-request context instead of a client
// timeout so callers control cancellation.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the conversations backend over HTTP.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a client for the given API root.
func NewClient(baseURL string, tokens auth.TokenSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: sharedHTTPClient,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		// Gentle client-side throttle so bursts of UI actions cannot
		// hammer the backend.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger,
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// WithMaxRetries sets the retry budget for idempotent requests.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// OPERATIONS
// =============================================================================

// ListConversations fetches one page of the conversation listing.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) (*ListConversationsResponse, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	path := "/chat/conversations"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var resp ListConversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetConversation fetches a full conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDTO, error) {
	var resp ConversationDTO
	if err := c.doJSON(ctx, http.MethodGet, "/chat/conversations/"+url.PathEscape(id), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConversation creates a conversation and returns it.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*ConversationDTO, error) {
	var resp ConversationDTO
	if err := c.doJSON(ctx, http.MethodPost, "/chat/conversations", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RenameConversation updates a conversation title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*ConversationDTO, error) {
	var resp ConversationDTO
	err := c.doJSON(ctx, http.MethodPatch, "/chat/conversations/"+url.PathEscape(id), RenameConversationRequest{Title: title}, &resp, false)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chat/conversations/"+url.PathEscape(id), nil, nil, false)
}

// SendMessage posts a message without streaming and returns both the
// persisted user message and the complete assistant reply.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// TRANSPORT PLUMBING
// =============================================================================

// NewRequest builds an authenticated request against the API root. The
// stream transport reuses this so auth headers stay in one place.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return nil
}

// doJSON performs a request, decoding the JSON response into out when
// out is non-nil. Only requests marked retryable are retried, and only
// on transient failures.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}, retryable bool) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempts := 1
	if retryable {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt - 1)
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.doOnce(ctx, method, path, payload, out)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := c.NewRequest(reqCtx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrorFromResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// isRetryable reports whether the request may be retried: network
// failures, server errors, and rate limiting. Auth failures, missing
// resources, and cancellations are terminal.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network-level failure.
		return true
	}
	return apiErr.Status == 429 || apiErr.Status >= 500
}

// calculateBackoff returns the exponential backoff delay for an attempt:
// 500ms, 1s, 2s, ... capped at 10s.
func calculateBackoff(attempt int) time.Duration {
	backoff := backoffBase << uint(attempt)
	if backoff > backoffMax {
		backoff = backoffMax
	}
	return backoff
}
