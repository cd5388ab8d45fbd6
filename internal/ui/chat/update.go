// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/converse-tui/internal/store"
	"github.com/morganforge/converse-tui/internal/ui/components"
)

// Update is the Bubble Tea update loop.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StoreEventMsg:
		return m.handleStoreEvent(msg.Event)

	case StreamTickMsg:
		return m.handleStreamTick()

	case SendFinishedMsg:
		return m.handleSendFinished(msg)

	case OpFinishedMsg:
		return m.handleOpFinished(msg)

	case components.ToastExpiredMsg:
		m.toasts.Expire()
		return m, nil

	case spinner.TickMsg:
		if !m.streaming() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m.updateFocused(msg)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	chromeHeight := m.chromeHeight()
	vpHeight := msg.Height - chromeHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = vpHeight
	}
	m.input.Width = msg.Width - 6
	m.prompt.Width = msg.Width - 10

	m.rebuildRenderer()
	m.refreshViewport(false)
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Title prompts capture all keys until settled.
	if m.mode != modeChat {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.store.StopStream()
		return m, tea.Quit

	case msg.Type == tea.KeyCtrlC:
		if m.streaming() {
			m.store.StopStream()
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Stop):
		// Idempotent: stopping with nothing active is a no-op.
		m.store.StopStream()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submitInput()

	case key.Matches(msg, m.keys.NewConv):
		m.mode = modeNewTitle
		m.prompt.SetValue("")
		m.prompt.Focus()
		m.input.Blur()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Rename):
		if m.store.CurrentID() == "" {
			return m, nil
		}
		m.mode = modeRename
		if conv := m.store.Current(); conv != nil {
			m.prompt.SetValue(conv.Title)
		}
		m.prompt.Focus()
		m.input.Blur()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Delete):
		return m, m.deleteCurrentCmd()

	case key.Matches(msg, m.keys.NextConv):
		return m, m.selectSiblingCmd(1)

	case key.Matches(msg, m.keys.PrevConv):
		return m, m.selectSiblingCmd(-1)

	case key.Matches(msg, m.keys.LoadMore):
		return m, m.loadMoreCmd()
	}

	return m.updateFocused(msg)
}

// submitInput validates and dispatches the typed message. Empty input
// never reaches the transport, and a busy send machine keeps the input
// intact for later.
func (m *Model) submitInput() (tea.Model, tea.Cmd) {
	if m.streaming() {
		return m, m.toasts.Push(components.ToastWarning, "Still streaming. Press Esc to stop first.")
	}

	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}
	if m.store.CurrentID() == "" {
		return m, m.toasts.Push(components.ToastWarning, "No conversation. Press Ctrl+T to start one.")
	}

	m.input.Reset()
	return m, m.sendCmd(content)
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		title := strings.TrimSpace(m.prompt.Value())
		wasRename := m.mode == modeRename
		m.closePrompt()
		if wasRename {
			if title == "" {
				return m, nil
			}
			return m, m.renameCmd(title)
		}
		return m, m.createCmd(title)

	case tea.KeyEsc:
		m.closePrompt()
		return m, nil
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m *Model) closePrompt() {
	m.mode = modeChat
	m.prompt.Blur()
	m.prompt.SetValue("")
	m.input.Focus()
}

func (m *Model) handleStoreEvent(ev store.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{m.waitForEvent()}

	switch ev.Kind {
	case store.EventStreamStarted:
		m.streamDirty = true
		cmds = append(cmds, m.spin.Tick, streamTickCmd())

	case store.EventStreamChunk:
		// Coalesced: the next tick repaints.
		m.streamDirty = true

	case store.EventStreamCompleted, store.EventStreamCancelled, store.EventMessageSent:
		m.streamDirty = false
		m.refreshViewport(true)

	case store.EventStreamFailed:
		m.streamDirty = false
		m.refreshViewport(true)
		if ev.Err != nil {
			cmds = append(cmds, m.toasts.Push(components.ToastError, "Send failed: "+ev.Err.Error()))
		}

	case store.EventConversationEvicted:
		m.refreshViewport(true)
		cmds = append(cmds, m.toasts.Push(components.ToastWarning, "Conversation no longer exists on the server."))

	default:
		m.refreshViewport(true)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if m.streamDirty {
		m.streamDirty = false
		m.refreshViewport(true)
	}
	if m.streaming() {
		return m, streamTickCmd()
	}
	return m, nil
}

func (m *Model) handleSendFinished(msg SendFinishedMsg) (tea.Model, tea.Cmd) {
	// Stream outcomes arrive as store events; only validation
	// rejections are reported here.
	switch {
	case errors.Is(msg.Err, store.ErrSendInFlight):
		return m, m.toasts.Push(components.ToastWarning, "A message is already being sent.")
	case errors.Is(msg.Err, store.ErrNoConversation):
		return m, m.toasts.Push(components.ToastWarning, "No conversation selected.")
	case errors.Is(msg.Err, store.ErrEmptyMessage):
		return m, nil
	}
	return m, nil
}

func (m *Model) handleOpFinished(msg OpFinishedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		return m, m.toasts.Push(components.ToastError, "Failed to "+msg.Op+": "+msg.Err.Error())
	}
	return m, nil
}

// updateFocused routes remaining messages to the focused widgets.
func (m *Model) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	if m.mode == modeChat && !m.streaming() {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}
