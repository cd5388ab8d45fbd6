// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage caches conversations on disk so history is available
// across restarts and before the first server round trip. The backend
// remains the source of truth; the cache is invalidated when the server
// reports a conversation gone.
package storage
