// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/morganforge/converse-tui/internal/api"
)

// =============================================================================
// TYPES
// =============================================================================

// doneSentinel terminates a stream. Any bytes after it are ignored.
const doneSentinel = "[DONE]"

var (
	// ErrIdleTimeout indicates the server went silent for longer than
	// the configured idle window.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrTruncatedStream indicates the connection ended without the
	// terminating sentinel.
	ErrTruncatedStream = errors.New("stream ended before completion")
)

// Chunk is one streamed delta of the assistant reply.
type Chunk struct {
	Content       string `json:"content"`
	MessageID     string `json:"messageId,omitempty"`
	UserMessageID string `json:"userMessageId,omitempty"`
	Done          bool   `json:"done,omitempty"`
}

// Final carries the server-assigned IDs delivered with the terminal
// event, when the server sends them.
type Final struct {
	MessageID     string
	UserMessageID string
}

// Callbacks receive stream lifecycle events. OnChunk fires per content
// chunk in arrival order. Exactly one of OnComplete or OnError fires
// afterwards, and OnComplete never follows OnError. Cancellation via
// the caller's context fires neither; Stream returns context.Canceled.
type Callbacks struct {
	OnChunk    func(Chunk)
	OnComplete func(Final)
	OnError    func(error)
}

// RequestBuilder constructs authenticated requests against the API
// root. *api.Client satisfies this, keeping auth handling in one place.
type RequestBuilder interface {
	NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error)
}

// =============================================================================
// TRANSPORT
// =============================================================================

// sharedStreamingClient has no client timeout; stream lifetime is
// governed by the request context and the idle watchdog.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Transport streams assistant replies over a single POST per send.
type Transport struct {
	requests    RequestBuilder
	httpClient  *http.Client
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewTransport creates a streaming transport. idleTimeout of zero
// disables the watchdog.
func NewTransport(requests RequestBuilder, idleTimeout time.Duration, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		requests:    requests,
		httpClient:  sharedStreamingClient,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (t *Transport) WithHTTPClient(hc *http.Client) *Transport {
	t.httpClient = hc
	return t
}

// Stream posts content to a conversation's streaming endpoint and
// decodes events until the terminating sentinel. The returned error
// mirrors the terminal callback: nil after OnComplete, the error passed
// to OnError, or context.Canceled when ctx was cancelled (no callback).
func (t *Transport) Stream(ctx context.Context, conversationID string, req api.SendMessageRequest, cb Callbacks) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return t.fail(cb, err)
	}

	// Internal context so the idle watchdog can abort reads without
	// touching the caller's context.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages/stream"
	httpReq, err := t.requests.NewRequest(streamCtx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return t.fail(cb, err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	watchdog := newIdleWatchdog(t.idleTimeout, cancel)
	defer watchdog.stop()

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return t.terminal(ctx, watchdog, cb, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return t.fail(cb, api.ErrorFromResponse(resp))
	}

	watchdog.reset()
	reader := NewReader(resp.Body)
	var final Final

	for {
		payload, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return t.terminal(ctx, watchdog, cb, ErrTruncatedStream)
			}
			return t.terminal(ctx, watchdog, cb, err)
		}
		watchdog.reset()

		if payload == doneSentinel {
			if cb.OnComplete != nil {
				cb.OnComplete(final)
			}
			return nil
		}

		var chunk Chunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// A malformed event must not kill the stream.
			t.logger.Warn("skipping malformed stream event",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			continue
		}

		if chunk.MessageID != "" {
			final.MessageID = chunk.MessageID
		}
		if chunk.UserMessageID != "" {
			final.UserMessageID = chunk.UserMessageID
		}

		if chunk.Content != "" && cb.OnChunk != nil {
			cb.OnChunk(chunk)
		}

		if chunk.Done {
			if cb.OnComplete != nil {
				cb.OnComplete(final)
			}
			return nil
		}
	}
}

// fail delivers a terminal error through OnError exactly once per call
// path and returns it.
func (t *Transport) fail(cb Callbacks, err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}

// terminal classifies a read failure: caller cancellation is silent,
// idle abort surfaces as ErrIdleTimeout, everything else as-is.
func (t *Transport) terminal(ctx context.Context, w *idleWatchdog, cb Callbacks, err error) error {
	if ctx.Err() != nil {
		// Caller abort: no callbacks fire.
		return context.Canceled
	}
	if w.fired() {
		return t.fail(cb, ErrIdleTimeout)
	}
	return t.fail(cb, err)
}

// =============================================================================
// IDLE WATCHDOG
// =============================================================================

// idleWatchdog cancels the stream when no events arrive for the
// configured window.
type idleWatchdog struct {
	window time.Duration
	cancel context.CancelFunc

	mu       sync.Mutex
	timer    *time.Timer
	hasFired bool
}

func newIdleWatchdog(window time.Duration, cancel context.CancelFunc) *idleWatchdog {
	return &idleWatchdog{window: window, cancel: cancel}
}

// reset restarts the countdown. A zero window disables the watchdog.
func (w *idleWatchdog) reset() {
	if w.window <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, func() {
		w.mu.Lock()
		w.hasFired = true
		w.mu.Unlock()
		w.cancel()
	})
}

func (w *idleWatchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatchdog) fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasFired
}
