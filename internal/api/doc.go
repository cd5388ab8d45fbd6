// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the conversations backend: listing,
// creating, renaming, and deleting conversations, plus the non-streaming
// message endpoint. Streaming lives in the stream package, which reuses
// this client's request construction for auth.
package api
