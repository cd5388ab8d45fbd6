// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the interactive chat view. It is a Bubble Tea
// model over the conversation store: all mutation goes through store
// operations, and the view repaints from store snapshots when events
// arrive. Streaming output is coalesced to a fixed frame rate so chunk
// bursts do not overwhelm the terminal.
package chat
