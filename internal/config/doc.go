// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and persists client configuration from
// ~/.converse/config.toml, applies CONVERSE_* environment overrides,
// and watches the file for live reloads.
package config
