// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/store"
	"github.com/morganforge/converse-tui/internal/util"
)

// View renders the full frame.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if toasts := m.toasts.View(m.theme, m.width); toasts != "" {
		b.WriteString(toasts)
		b.WriteString("\n")
	}
	b.WriteString(m.inputView())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

// chromeHeight is the number of rows everything but the viewport needs.
func (m *Model) chromeHeight() int {
	// Header, input area with top border, status bar.
	h := 1 + 2 + 1
	if m.toasts.Active() {
		h += strings.Count(m.toasts.View(m.theme, m.width), "\n") + 1
	}
	return h
}

// refreshViewport repaints the transcript. When follow is set the view
// snaps to the newest message, otherwise the scroll position holds.
func (m *Model) refreshViewport(follow bool) {
	if !m.ready {
		return
	}
	conv := m.store.Current()
	if conv == nil {
		m.viewport.SetContent(m.emptyView())
		return
	}
	m.viewport.SetContent(m.renderMessages(conv))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) emptyView() string {
	hint := m.theme.HeaderMeta.Render(
		"No conversation selected.\n\n" +
			"  ctrl+t  start a new conversation\n" +
			"  ctrl+n  next conversation\n" +
			"  ctrl+p  previous conversation")
	return lipgloss.NewStyle().Padding(1, 2).Render(hint)
}

func (m *Model) renderMessages(conv *model.Conversation) string {
	var b strings.Builder
	for i, msg := range conv.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg *model.Message) string {
	var label string
	switch msg.Role {
	case model.RoleUser:
		label = m.theme.UserLabel.Render(msg.Role.DisplayName())
	case model.RoleAssistant:
		label = m.theme.AssistantLabel.Render(msg.Role.DisplayName())
	default:
		label = m.theme.SystemLabel.Render(msg.Role.DisplayName())
	}
	if !msg.CreatedAt.IsZero() {
		label += " " + m.theme.Timestamp.Render(msg.CreatedAt.Format("15:04"))
	}

	body := msg.DisplayContent()
	switch msg.State {
	case model.MessageStreaming:
		if body == "" {
			body = m.spin.View()
		} else {
			body += m.theme.StreamCursor.Render("▌")
		}
	case model.MessageFinal:
		if msg.Role == model.RoleAssistant {
			body = m.renderMarkdown(body)
		}
	}

	return label + "\n" + m.theme.MessageBody.Render(body)
}

// renderMarkdown renders assistant content through glamour when it is
// enabled, falling back to the raw text on any failure.
func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}

func (m *Model) headerView() string {
	title := "converse"
	meta := ""
	if conv := m.store.Current(); conv != nil {
		title = util.TruncateWidth(conv.Title, m.width/2)
		meta = conv.Model.String()
	}

	page, total, _ := m.store.Pagination()
	if total > 0 {
		if meta != "" {
			meta += "  "
		}
		meta += fmt.Sprintf("%d conversations (page %d)", total, page)
	}

	left := m.theme.HeaderTitle.Render(title)
	right := m.theme.HeaderMeta.Render(meta)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m *Model) inputView() string {
	switch m.mode {
	case modeNewTitle:
		return m.theme.PromptOverlay.Render("New conversation: " + m.prompt.View())
	case modeRename:
		return m.theme.PromptOverlay.Render("Rename: " + m.prompt.View())
	}

	if m.streaming() {
		return m.theme.InputContainer.Width(m.width).Render(
			m.spin.View() + " " + m.theme.InputDisabled.Render("streaming... press esc to stop"))
	}
	return m.theme.InputContainer.Width(m.width).Render(
		m.theme.InputPrompt.Render("> ") + m.input.View())
}

func (m *Model) statusView() string {
	var state string
	switch m.store.SendState() {
	case store.SendPosting:
		state = m.theme.StatusBusy.Render("sending")
	case store.SendStreaming:
		state = m.theme.StatusBusy.Render("streaming")
	default:
		if m.store.LastError() != nil {
			state = m.theme.StatusError.Render("error")
		} else {
			state = m.theme.StatusReady.Render("ready")
		}
	}

	stats := ""
	if m.cfg.UI.ShowStats {
		stats = m.statsView()
	}

	hints := strings.Join([]string{
		m.theme.ShortcutKey.Render("enter") + m.theme.ShortcutDesc.Render(" send"),
		m.theme.ShortcutKey.Render("esc") + m.theme.ShortcutDesc.Render(" stop"),
		m.theme.ShortcutKey.Render("ctrl+t") + m.theme.ShortcutDesc.Render(" new"),
		m.theme.ShortcutKey.Render("ctrl+q") + m.theme.ShortcutDesc.Render(" quit"),
	}, "  ")

	left := state
	if stats != "" {
		left += "  " + stats
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(hints) - 2
	if gap < 1 {
		gap = 1
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + hints)
}

// statsView shows timing for the newest finished assistant message.
func (m *Model) statsView() string {
	conv := m.store.Current()
	if conv == nil {
		return ""
	}
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		msg := conv.Messages[i]
		if msg.Role != model.RoleAssistant || msg.State != model.MessageFinal {
			continue
		}
		stats := msg.Stats()
		if stats.Duration == 0 {
			return ""
		}
		return m.theme.HeaderMeta.Render(fmt.Sprintf(
			"first chunk %s, total %s",
			stats.TimeToFirstChunk().Round(10*time.Millisecond),
			stats.Duration.Round(10*time.Millisecond)))
	}
	return ""
}
