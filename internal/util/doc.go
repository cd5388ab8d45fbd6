// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers: atomic file writes used by
// the config and history layers, and width-aware string truncation used
// by the terminal views.
package util
