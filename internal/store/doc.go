// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store is the client-side state container. It owns the cached
// conversation list and the selected conversation, runs the
// single-flight send machine over the streaming transport, mirrors
// server truth into the local history cache, and notifies subscribers
// of every committed mutation through an event channel.
package store
