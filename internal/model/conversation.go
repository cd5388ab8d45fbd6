// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"time"
)

// MaxMessages caps the in-memory history per conversation. Older
// messages are pruned once the cap is exceeded.
const MaxMessages = 1000

var (
	// ErrStreamActive is returned when a stream is started on a
	// conversation that already has a streaming placeholder.
	ErrStreamActive = errors.New("conversation already has an active stream")

	// ErrNoStream is returned by operations that require an active
	// streaming placeholder when none exists.
	ErrNoStream = errors.New("conversation has no active stream")
)

// ModelRef identifies the model serving a conversation.
type ModelRef struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name"`
}

// String returns "provider/name", or just the name when the provider is
// not set.
func (m ModelRef) String() string {
	if m.Provider == "" {
		return m.Name
	}
	return m.Provider + "/" + m.Name
}

// Conversation is a chat conversation with its message history.
// Methods are not safe for concurrent use; the store serializes access.
type Conversation struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Model        ModelRef   `json:"model"`
	SystemPrompt string     `json:"systemPrompt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Messages     []*Message `json:"messages"`
}

// NewConversation creates an empty conversation shell. The ID is usually
// server-assigned; local-only shells may leave it empty until created.
func NewConversation(id, title string, ref ModelRef) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Title:     title,
		Model:     ref,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// MESSAGE ACCESS
// =============================================================================

// LastMessage returns the most recent message, or nil when empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// MessageByID returns the message with the given ID, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// StreamingMessage returns the active streaming placeholder, or nil.
// The invariant maintained by BeginStream is that at most one exists.
func (c *Conversation) StreamingMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].State == MessageStreaming {
			return c.Messages[i]
		}
	}
	return nil
}

// AddMessage appends a finalized or pending message and prunes history
// beyond MaxMessages.
func (c *Conversation) AddMessage(m *Message) {
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = time.Now()
	c.prune()
	c.refreshTitle()
}

// RemoveMessage removes the message with the given ID. Returns true if
// a message was removed.
func (c *Conversation) RemoveMessage(id string) bool {
	for i, m := range c.Messages {
		if m.ID == id {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// =============================================================================
// STREAMING LIFECYCLE
// =============================================================================

// BeginStream appends a pending user message and an empty assistant
// placeholder in one step. It fails if a stream is already active so a
// conversation can never hold two placeholders.
func (c *Conversation) BeginStream(content string) (user, placeholder *Message, err error) {
	if c.StreamingMessage() != nil {
		return nil, nil, ErrStreamActive
	}
	user = NewUserMessage(content)
	placeholder = NewAssistantPlaceholder()
	c.Messages = append(c.Messages, user, placeholder)
	c.UpdatedAt = time.Now()
	c.prune()
	c.refreshTitle()
	return user, placeholder, nil
}

// AppendToStream appends a chunk to the active placeholder.
func (c *Conversation) AppendToStream(chunk string) error {
	msg := c.StreamingMessage()
	if msg == nil {
		return ErrNoStream
	}
	msg.AppendChunk(chunk)
	c.UpdatedAt = time.Now()
	return nil
}

// FinalizeStream completes the active placeholder, adopting the server
// message ID when provided.
func (c *Conversation) FinalizeStream(serverID string) error {
	msg := c.StreamingMessage()
	if msg == nil {
		return ErrNoStream
	}
	msg.Finalize(serverID)
	c.UpdatedAt = time.Now()
	return nil
}

// RollbackStream removes the active placeholder, leaving the user
// message in place. Used when a stream fails before completion.
func (c *Conversation) RollbackStream() error {
	msg := c.StreamingMessage()
	if msg == nil {
		return ErrNoStream
	}
	c.RemoveMessage(msg.ID)
	return nil
}

// =============================================================================
// HOUSEKEEPING
// =============================================================================

func (c *Conversation) prune() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	c.Messages = append([]*Message(nil), c.Messages[excess:]...)
}

// refreshTitle derives a title from the first user message when none has
// been set explicitly.
func (c *Conversation) refreshTitle() {
	if c.Title != "" {
		return
	}
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			c.Title = m.Preview(50)
			return
		}
	}
}

// Clone returns a deep copy of the conversation. Streaming placeholders
// are snapshotted with their current buffered content.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		mc := &Message{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			State:      m.State,
			chunkCount: m.chunkCount,
			stats:      m.stats,
		}
		// A streaming clone keeps rendering from its buffer, so the
		// buffered content must travel with it.
		if m.State == MessageStreaming {
			mc.streamBuf.WriteString(m.streamBuf.String())
		}
		clone.Messages[i] = mc
	}
	return &clone
}

// Meta is a lightweight listing entry for a conversation.
type Meta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        ModelRef  `json:"model"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Meta returns the listing entry for the conversation.
func (c *Conversation) Meta() Meta {
	return Meta{
		ID:           c.ID,
		Title:        c.Title,
		Model:        c.Model,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}
