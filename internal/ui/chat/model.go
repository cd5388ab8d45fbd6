// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/morganforge/converse-tui/internal/config"
	"github.com/morganforge/converse-tui/internal/store"
	"github.com/morganforge/converse-tui/internal/ui/components"
	"github.com/morganforge/converse-tui/internal/ui/styles"
)

// mode selects what the input area edits.
type mode int

const (
	// modeChat is the normal message input.
	modeChat mode = iota
	// modeNewTitle prompts for a new conversation's title.
	modeNewTitle
	// modeRename prompts for the current conversation's new title.
	modeRename
)

// Model is the Bubble Tea model for the chat view. All conversation
// state lives in the store; the model holds only presentation state.
type Model struct {
	store  *store.Store
	cfg    *config.Config
	theme  *styles.Theme
	keys   KeyMap
	logger *zap.Logger

	viewport viewport.Model
	input    textinput.Model
	prompt   textinput.Model
	spin     spinner.Model
	toasts   components.ToastManager

	renderer *glamour.TermRenderer
	mode     mode

	width  int
	height int
	ready  bool

	// streamDirty marks chunk arrivals between render ticks.
	streamDirty bool
}

// New creates the chat view over a store.
func New(s *store.Store, cfg *config.Config, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	theme := styles.NewTheme()

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 8192
	input.Focus()

	prompt := textinput.New()
	prompt.Placeholder = "Conversation title"
	prompt.CharLimit = 120

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = theme.Spinner

	return &Model{
		store:  s,
		cfg:    cfg,
		theme:  theme,
		keys:   DefaultKeyMap(),
		logger: logger,
		input:  input,
		prompt: prompt,
		spin:   spin,
	}
}

// Init starts the event subscription and the initial refresh.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.waitForEvent(),
		m.refreshCmd(),
	)
}

// streaming reports whether a send is in flight.
func (m *Model) streaming() bool {
	return m.store.SendState() != store.SendIdle
}

// rebuildRenderer recreates the markdown renderer for a new width.
func (m *Model) rebuildRenderer() {
	if !m.cfg.UI.Markdown {
		return
	}
	wrap := m.width - 4
	if wrap < 20 {
		wrap = 20
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		m.logger.Warn("markdown renderer unavailable", zap.Error(err))
		m.renderer = nil
		return
	}
	m.renderer = renderer
}
