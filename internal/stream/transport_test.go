// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morganforge/converse-tui/internal/api"
	"github.com/morganforge/converse-tui/internal/auth"
)

// collector records callback invocations for assertions.
type collector struct {
	chunks    []Chunk
	completes []Final
	errs      []error
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnChunk:    func(ch Chunk) { c.chunks = append(c.chunks, ch) },
		OnComplete: func(f Final) { c.completes = append(c.completes, f) },
		OnError:    func(err error) { c.errs = append(c.errs, err) },
	}
}

func (c *collector) content() string {
	var sb strings.Builder
	for _, ch := range c.chunks {
		sb.WriteString(ch.Content)
	}
	return sb.String()
}

func newTestTransport(serverURL string, idle time.Duration) *Transport {
	client := api.NewClient(serverURL, auth.Static("test-token"), nil)
	return NewTransport(client, idle, nil)
}

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, flush func(format string, args ...interface{}))) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("response writer does not support flushing")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		handler(w, r, func(format string, args ...interface{}) {
			fmt.Fprintf(w, format, args...)
			flusher.Flush()
		})
	}))
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		if r.URL.Path != "/chat/conversations/conv-1/messages/stream" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		flush("data: {\"content\":\"Hel\",\"userMessageId\":\"msg-u\"}\n")
		flush("data: {\"content\":\"lo\"}\n")
		flush("data: {\"content\":\" world\",\"messageId\":\"msg-a\"}\n")
		flush("data: [DONE]\n")
	})
	defer server.Close()

	var c collector
	err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "hi"}, c.callbacks())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if c.content() != "Hello world" {
		t.Errorf("content = %q", c.content())
	}
	if len(c.completes) != 1 {
		t.Fatalf("completes = %d, want 1", len(c.completes))
	}
	if c.completes[0].MessageID != "msg-a" || c.completes[0].UserMessageID != "msg-u" {
		t.Errorf("final = %+v", c.completes[0])
	}
	if len(c.errs) != 0 {
		t.Errorf("errs = %v, want none", c.errs)
	}
}

// The decoder must reassemble events even when the server flushes
// mid-line, splitting events across read boundaries.
func TestStreamFragmentedWrites(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"con")
		flush("tent\":\"frag")
		flush("mented\"}\ndata: [D")
		flush("ONE]\n")
	})
	defer server.Close()

	var c collector
	err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if c.content() != "fragmented" {
		t.Errorf("content = %q", c.content())
	}
	if len(c.completes) != 1 {
		t.Errorf("completes = %d, want 1", len(c.completes))
	}
}

func TestStreamSkipsMalformedEvents(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"ok1\"}\n")
		flush("data: {not valid json}\n")
		flush("data: {\"content\":\"ok2\"}\n")
		flush("data: [DONE]\n")
	})
	defer server.Close()

	var c collector
	err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if c.content() != "ok1ok2" {
		t.Errorf("content = %q, malformed event must be skipped", c.content())
	}
	if len(c.errs) != 0 {
		t.Errorf("errs = %v, malformed event is not terminal", c.errs)
	}
}

func TestStreamIgnoresDataAfterDone(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"before\"}\n")
		flush("data: [DONE]\n")
		flush("data: {\"content\":\"after\"}\n")
	})
	defer server.Close()

	var c collector
	if err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks()); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if c.content() != "before" {
		t.Errorf("content = %q, events after the sentinel must be ignored", c.content())
	}
	if len(c.completes) != 1 {
		t.Errorf("completes = %d, want exactly 1", len(c.completes))
	}
}

func TestStreamDoneFlagTerminates(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"all\",\"done\":true,\"messageId\":\"msg-9\"}\n")
	})
	defer server.Close()

	var c collector
	if err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks()); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(c.completes) != 1 || c.completes[0].MessageID != "msg-9" {
		t.Errorf("completes = %+v", c.completes)
	}
}

func TestStreamHTTPErrorFiresOnErrorOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code": "rate_limited", "message": "slow down"}`))
	}))
	defer server.Close()

	var c collector
	err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks())
	if !errors.Is(err, api.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	if len(c.errs) != 1 {
		t.Fatalf("errs = %d, want exactly 1", len(c.errs))
	}
	if len(c.completes) != 0 {
		t.Error("OnComplete must never fire after OnError")
	}
	if len(c.chunks) != 0 {
		t.Errorf("chunks = %v, want none", c.chunks)
	}
}

func TestStreamTruncatedWithoutSentinel(t *testing.T) {
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"partial\"}\n")
		// Connection closes without [DONE].
	})
	defer server.Close()

	var c collector
	err := newTestTransport(server.URL, 0).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks())
	if !errors.Is(err, ErrTruncatedStream) {
		t.Errorf("error = %v, want ErrTruncatedStream", err)
	}
	if len(c.errs) != 1 || len(c.completes) != 0 {
		t.Errorf("errs = %d completes = %d, want 1 and 0", len(c.errs), len(c.completes))
	}
	if c.content() != "partial" {
		t.Errorf("chunks delivered before the failure must stand, got %q", c.content())
	}
}

func TestStreamCancellationFiresNoCallbacks(t *testing.T) {
	release := make(chan struct{})
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"first\"}\n")
		<-release
	})
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	cb := c.callbacks()
	cb.OnChunk = func(ch Chunk) {
		c.chunks = append(c.chunks, ch)
		cancel()
	}

	err := newTestTransport(server.URL, 0).Stream(ctx, "conv-1", api.SendMessageRequest{Content: "x"}, cb)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(c.errs) != 0 {
		t.Errorf("OnError fired on cancellation: %v", c.errs)
	}
	if len(c.completes) != 0 {
		t.Error("OnComplete fired on cancellation")
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	server := sseServer(t, func(w http.ResponseWriter, r *http.Request, flush func(string, ...interface{})) {
		flush("data: {\"content\":\"then silence\"}\n")
		<-release
	})
	defer server.Close()
	defer close(release)

	var c collector
	start := time.Now()
	err := newTestTransport(server.URL, 100*time.Millisecond).Stream(context.Background(), "conv-1", api.SendMessageRequest{Content: "x"}, c.callbacks())
	if !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("error = %v, want ErrIdleTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("idle abort took %v", elapsed)
	}
	if len(c.errs) != 1 || !errors.Is(c.errs[0], ErrIdleTimeout) {
		t.Errorf("errs = %v, want one ErrIdleTimeout", c.errs)
	}
}
