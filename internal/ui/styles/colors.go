// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for the converse TUI.
// All colors use Lip Gloss AdaptiveColor for automatic light/dark detection.
package styles

import "github.com/charmbracelet/lipgloss"

// Accent colors.
var (
	// Indigo - primary accent, assistant messages, selections
	Indigo = lipgloss.AdaptiveColor{Light: "#4F46E5", Dark: "#818CF8"}

	// Teal - brand color, user highlights, prompts
	Teal = lipgloss.AdaptiveColor{Light: "#0D9488", Dark: "#2DD4BF"}

	// Emerald - success states, connected indicator
	Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}
)

// Semantic colors.
var (
	// Rose - errors, danger states
	Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Amber - warnings, cancelled streams
	Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}
)

// Surface colors.
var (
	// SurfaceDim - headers, footers
	SurfaceDim = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}

	// Overlay - borders, separators
	Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}
)

// Text colors.
var (
	// TextPrimary - main body text
	TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

	// TextSecondary - labels, less prominent text
	TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

	// TextMuted - hints, timestamps
	TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}
)
