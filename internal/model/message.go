// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/converse-tui/internal/util"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE STATE
// =============================================================================

// MessageState is the lifecycle state of a message. It replaces boolean
// flags so that illegal combinations cannot be represented: a message is
// either final, waiting for a server acknowledgement, or receiving
// streamed content.
type MessageState int

const (
	// MessageFinal is a message whose content is complete and whose ID
	// is the server-assigned one (or a restored historical message).
	MessageFinal MessageState = iota

	// MessagePending is a locally created user message that has not yet
	// been acknowledged by the server. It carries a temporary ID.
	MessagePending

	// MessageStreaming is an assistant placeholder that is accumulating
	// streamed chunks. It carries a temporary ID until finalized.
	MessageStreaming
)

// String returns the state name for logging.
func (s MessageState) String() string {
	switch s {
	case MessageFinal:
		return "final"
	case MessagePending:
		return "pending"
	case MessageStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// pendingPrefix marks client-assigned temporary message IDs. A message
// whose ID carries this prefix has never been confirmed by the server.
const pendingPrefix = "pending-"

// NewPendingID returns a fresh client-side temporary message ID.
func NewPendingID() string {
	return pendingPrefix + uuid.NewString()
}

// IsPendingID reports whether id is a client-assigned temporary ID.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, pendingPrefix)
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is a single chat message. Streamed content accumulates in a
// builder and is merged into Content on finalization, so repeated chunk
// appends stay O(1) amortized instead of reallocating the content string.
type Message struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	State     MessageState `json:"-"`

	streamBuf  strings.Builder
	chunkCount int
	stats      Statistics
}

// NewUserMessage creates a pending user message with a temporary ID.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        NewPendingID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
		State:     MessagePending,
	}
}

// NewAssistantPlaceholder creates an empty assistant message in streaming
// state. Chunks append to it until the stream finishes.
func NewAssistantPlaceholder() *Message {
	return &Message{
		ID:        NewPendingID(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		State:     MessageStreaming,
		stats:     Statistics{StartTime: time.Now()},
	}
}

// NewFinalMessage creates a completed message, as restored from the
// server or local history.
func NewFinalMessage(id string, role Role, content string, createdAt time.Time) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
		State:     MessageFinal,
	}
}

// AppendChunk appends streamed content. It is a no-op unless the message
// is in streaming state.
func (m *Message) AppendChunk(chunk string) {
	if m.State != MessageStreaming {
		return
	}
	if m.chunkCount == 0 {
		m.stats.RecordFirstChunk()
	}
	m.streamBuf.WriteString(chunk)
	m.chunkCount++
}

// DisplayContent returns the content to render: the final content, or
// the accumulated stream buffer while streaming.
func (m *Message) DisplayContent() string {
	if m.State == MessageStreaming {
		return m.streamBuf.String()
	}
	return m.Content
}

// Finalize merges streamed content into Content and marks the message
// final. A non-empty serverID replaces the temporary ID.
func (m *Message) Finalize(serverID string) {
	if m.State == MessageStreaming {
		m.Content = m.streamBuf.String()
		m.streamBuf.Reset()
		m.stats.Finalize()
	}
	if serverID != "" {
		m.ID = serverID
	}
	m.State = MessageFinal
}

// Acknowledge confirms a pending user message with its server ID.
func (m *Message) Acknowledge(serverID string) {
	if m.State != MessagePending {
		return
	}
	if serverID != "" {
		m.ID = serverID
	}
	m.State = MessageFinal
}

// ChunkCount returns the number of chunks appended so far.
func (m *Message) ChunkCount() int {
	return m.chunkCount
}

// Stats returns streaming timing statistics for the message.
func (m *Message) Stats() Statistics {
	return m.stats
}

// Preview returns a single-line preview of the content, truncated to
// maxLen runes.
func (m *Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.DisplayContent(), "\n", " ")
	return util.TruncateRunes(strings.TrimSpace(content), maxLen)
}

// =============================================================================
// STATISTICS
// =============================================================================

// Statistics captures timing for a streamed response.
type Statistics struct {
	StartTime      time.Time
	FirstChunkTime time.Time
	Duration       time.Duration
}

// RecordFirstChunk stamps the time-to-first-chunk once.
func (s *Statistics) RecordFirstChunk() {
	if s.FirstChunkTime.IsZero() {
		s.FirstChunkTime = time.Now()
	}
}

// Finalize stamps the total duration.
func (s *Statistics) Finalize() {
	if !s.StartTime.IsZero() {
		s.Duration = time.Since(s.StartTime)
	}
}

// TimeToFirstChunk returns the latency before the first chunk arrived,
// or zero if none arrived.
func (s *Statistics) TimeToFirstChunk() time.Duration {
	if s.StartTime.IsZero() || s.FirstChunkTime.IsZero() {
		return 0
	}
	return s.FirstChunkTime.Sub(s.StartTime)
}
