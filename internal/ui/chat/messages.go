// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/converse-tui/internal/store"
)

// =============================================================================
// STORE EVENTS
// =============================================================================

// StoreEventMsg wraps a store event for the update loop. The view
// re-reads store state on receipt; the event only routes.
type StoreEventMsg struct {
	Event store.Event
}

// =============================================================================
// OPERATION RESULTS
// =============================================================================

// SendFinishedMsg reports the terminal result of a streaming send. The
// stream's own outcome arrives via store events; Err here only carries
// validation rejections.
type SendFinishedMsg struct {
	Err error
}

// OpFinishedMsg reports a completed conversation operation.
type OpFinishedMsg struct {
	Op  string
	Err error
}

// =============================================================================
// RENDER PACING
// =============================================================================

// streamFPS paces viewport rebuilds during streaming so a fast stream
// cannot flood the renderer.
const streamFPS = 30

// StreamTickMsg drives the render throttle while a stream is active.
type StreamTickMsg time.Time

func streamTickCmd() tea.Cmd {
	return tea.Tick(time.Second/streamFPS, func(t time.Time) tea.Msg {
		return StreamTickMsg(t)
	})
}
