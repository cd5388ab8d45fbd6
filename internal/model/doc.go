// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the conversation and message types shared across
// the client. Message lifecycle is an explicit state (final, pending,
// streaming) rather than boolean flags, and a conversation enforces that
// at most one message is streaming at a time.
package model
