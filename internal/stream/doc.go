// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the streaming message transport: one POST
// per send, decoding "data:" events until the [DONE] sentinel. Chunks
// are delivered in arrival order; a send terminates with exactly one
// completion or error callback, and caller cancellation fires neither.
package stream
