// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// =============================================================================
// SEND STATE MACHINE
// =============================================================================

// SendState is the explicit lifecycle of a send. Transitions:
//
//	SendIdle -> SendPosting -> SendStreaming -> SendIdle
//
// The terminal outcome (completed, failed, cancelled) is reported as an
// event while the machine returns to idle; it is never a resting state,
// so stale "still streaming" flags cannot linger.
type SendState int

const (
	// SendIdle means no send is in flight.
	SendIdle SendState = iota

	// SendPosting means the request was issued but no chunk has
	// arrived yet.
	SendPosting

	// SendStreaming means chunks are arriving.
	SendStreaming
)

// String returns the state name for logging.
func (s SendState) String() string {
	switch s {
	case SendIdle:
		return "idle"
	case SendPosting:
		return "posting"
	case SendStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// sendContext tracks the single in-flight send. The sequence number
// fences stale callbacks: a chunk from send N is ignored once send N+1
// (or none) owns the machine.
type sendContext struct {
	state          SendState
	conversationID string
	seq            uint64
}

// =============================================================================
// CANCEL HANDLE
// =============================================================================

// cancelHandle guards the active stream's CancelFunc behind a mutex so
// stop requests from the UI goroutine are safe against the send worker
// installing or clearing it. Held by pointer: the zero value is ready.
type cancelHandle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (h *cancelHandle) set(fn context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = fn
}

// fire cancels the active stream if one exists. Returns whether a
// cancellation was actually issued, so stop stays an idempotent no-op.
func (h *cancelHandle) fire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return false
	}
	h.cancel()
	h.cancel = nil
	return true
}

func (h *cancelHandle) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = nil
}
