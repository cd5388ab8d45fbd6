// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keyboard bindings for the chat view.
type KeyMap struct {
	Submit   key.Binding
	Stop     key.Binding
	Quit     key.Binding
	NewConv  key.Binding
	Delete   key.Binding
	Rename   key.Binding
	NextConv key.Binding
	PrevConv key.Binding
	LoadMore key.Binding
	PageUp   key.Binding
	PageDown key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Stop: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "stop streaming"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+q"),
			key.WithHelp("C-q", "quit"),
		),
		NewConv: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "new conversation"),
		),
		Delete: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("C-d", "delete conversation"),
		),
		Rename: key.NewBinding(
			key.WithKeys("f2"),
			key.WithHelp("F2", "rename"),
		),
		NextConv: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "next conversation"),
		),
		PrevConv: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("C-p", "previous conversation"),
		),
		LoadMore: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "load more"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
	}
}
