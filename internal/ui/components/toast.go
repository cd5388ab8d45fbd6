// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides shared UI components for the converse TUI.
package components

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/converse-tui/internal/ui/styles"
)

// =============================================================================
// TOASTS
// =============================================================================

// ToastKind represents the type of toast notification.
type ToastKind int

const (
	// ToastStatus is an informational toast.
	ToastStatus ToastKind = iota
	// ToastWarning is a warning toast.
	ToastWarning
	// ToastError is an error toast.
	ToastError
)

const (
	statusToastDuration  = 4 * time.Second
	warningToastDuration = 6 * time.Second
	// Errors stay longer so there is time to read them.
	errorToastDuration = 8 * time.Second
)

// Toast is a non-blocking notification shown above the status bar and
// auto-dismissed. Errors never interrupt input: history stays intact
// and the user keeps typing.
type Toast struct {
	Message   string
	Kind      ToastKind
	ExpiresAt time.Time
}

// ToastExpiredMsg asks the manager to drop expired toasts.
type ToastExpiredMsg struct{}

// ToastManager collects active toasts. It lives inside the single UI
// model, so no locking is needed.
type ToastManager struct {
	toasts []Toast
}

// Push adds a toast and returns the expiry tick command.
func (m *ToastManager) Push(kind ToastKind, message string) tea.Cmd {
	duration := statusToastDuration
	switch kind {
	case ToastWarning:
		duration = warningToastDuration
	case ToastError:
		duration = errorToastDuration
	}
	m.toasts = append(m.toasts, Toast{
		Message:   message,
		Kind:      kind,
		ExpiresAt: time.Now().Add(duration),
	})
	return tea.Tick(duration, func(time.Time) tea.Msg {
		return ToastExpiredMsg{}
	})
}

// Expire drops toasts past their deadline.
func (m *ToastManager) Expire() {
	now := time.Now()
	kept := m.toasts[:0]
	for _, t := range m.toasts {
		if t.ExpiresAt.After(now) {
			kept = append(kept, t)
		}
	}
	m.toasts = kept
}

// Clear removes all toasts.
func (m *ToastManager) Clear() {
	m.toasts = nil
}

// Active reports whether any toast is visible.
func (m *ToastManager) Active() bool {
	return len(m.toasts) > 0
}

// View renders the active toasts, newest last.
func (m *ToastManager) View(theme *styles.Theme, width int) string {
	if len(m.toasts) == 0 {
		return ""
	}
	var out string
	for i, t := range m.toasts {
		style := theme.ToastStatus
		switch t.Kind {
		case ToastWarning:
			style = theme.ToastWarning
		case ToastError:
			style = theme.ToastError
		}
		if width > 4 {
			style = style.MaxWidth(width)
		}
		if i > 0 {
			out += "\n"
		}
		out += style.Render(t.Message)
	}
	return out
}
