// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth resolves the bearer token used against the backend. The
// client only attaches the token; issuing and refreshing tokens is the
// backend's concern.
package auth
