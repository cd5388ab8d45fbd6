// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent blocks on the store's event channel. Re-issued after
// every received event, keeping the subscription alive for the whole
// session.
func (m *Model) waitForEvent() tea.Cmd {
	events := m.store.Events()
	return func() tea.Msg {
		return StoreEventMsg{Event: <-events}
	}
}

// opCtx bounds a conversation operation.
func (m *Model) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.RequestTimeout())
}

// sendCmd runs a streaming send to completion. No timeout: stream
// lifetime is governed by the transport's idle watchdog and the stop
// key.
func (m *Model) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		return SendFinishedMsg{Err: m.store.SendStream(context.Background(), content)}
	}
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		return OpFinishedMsg{Op: "refresh", Err: m.store.Refresh(ctx)}
	}
}

func (m *Model) loadMoreCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		return OpFinishedMsg{Op: "load more", Err: m.store.LoadMore(ctx)}
	}
}

func (m *Model) selectCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		return OpFinishedMsg{Op: "open conversation", Err: m.store.Select(ctx, id)}
	}
}

func (m *Model) createCmd(title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		_, err := m.store.Create(ctx, title)
		return OpFinishedMsg{Op: "create conversation", Err: err}
	}
}

func (m *Model) deleteCurrentCmd() tea.Cmd {
	id := m.store.CurrentID()
	if id == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		return OpFinishedMsg{Op: "delete conversation", Err: m.store.Delete(ctx, id)}
	}
}

func (m *Model) renameCmd(title string) tea.Cmd {
	id := m.store.CurrentID()
	if id == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.opCtx()
		defer cancel()
		return OpFinishedMsg{Op: "rename conversation", Err: m.store.Rename(ctx, id, title)}
	}
}

// selectSiblingCmd opens the conversation offset steps away from the
// current one in the cached list.
func (m *Model) selectSiblingCmd(offset int) tea.Cmd {
	metas := m.store.Conversations()
	if len(metas) == 0 {
		return nil
	}

	current := m.store.CurrentID()
	idx := -1
	for i, meta := range metas {
		if meta.ID == current {
			idx = i
			break
		}
	}

	target := idx + offset
	if idx == -1 {
		target = 0
	}
	if target < 0 || target >= len(metas) {
		return nil
	}
	return m.selectCmd(metas[target].ID)
}
