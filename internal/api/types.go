// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"time"

	"github.com/morganforge/converse-tui/internal/model"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// MessageDTO is a message as the backend serializes it.
type MessageDTO struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToModel converts the wire message into the domain type.
func (d MessageDTO) ToModel() *model.Message {
	return model.NewFinalMessage(d.ID, model.Role(d.Role), d.Content, d.CreatedAt)
}

// ConversationDTO is a conversation as the backend serializes it. The
// list endpoint omits Messages; the detail endpoint includes them.
type ConversationDTO struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Model        model.ModelRef `json:"model"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Messages     []MessageDTO   `json:"messages,omitempty"`
}

// ToModel converts the wire conversation into the domain type.
func (d ConversationDTO) ToModel() *model.Conversation {
	conv := &model.Conversation{
		ID:           d.ID,
		Title:        d.Title,
		Model:        d.Model,
		SystemPrompt: d.SystemPrompt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, m := range d.Messages {
		conv.Messages = append(conv.Messages, m.ToModel())
	}
	return conv
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page    int  `json:"page"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ListConversationsResponse is the conversations listing payload.
type ListConversationsResponse struct {
	Conversations []ConversationDTO `json:"conversations"`
	Pagination    Pagination        `json:"pagination"`
}

// CreateConversationRequest creates a new conversation.
type CreateConversationRequest struct {
	Title        string         `json:"title,omitempty"`
	Model        model.ModelRef `json:"model"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
}

// RenameConversationRequest updates a conversation title.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest posts a user message.
type SendMessageRequest struct {
	Content string          `json:"content"`
	Model   *model.ModelRef `json:"model,omitempty"`
}

// SendMessageResponse is the non-streaming send result: the persisted
// user message and the complete assistant reply.
type SendMessageResponse struct {
	UserMessage MessageDTO `json:"userMessage"`
	AIMessage   MessageDTO `json:"aiMessage"`
}
