// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/morganforge/converse-tui/internal/api"
	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/stream"
)

// =============================================================================
// STREAMING SEND
// =============================================================================

// SendStream sends content to the current conversation and streams the
// reply into an assistant placeholder. It blocks until the stream
// reaches a terminal state, so callers run it on their own goroutine
// and watch the event channel.
//
// Validation failures leave the store untouched. A terminal failure
// before completion rolls back the placeholder, keeping the user
// message. A stop keeps whatever content already arrived.
func (s *Store) SendStream(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	if content == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	if s.send.state != SendIdle {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}

	conv := s.current
	userMsg, placeholder, err := conv.BeginStream(content)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.nextSeq++
	seq := s.nextSeq
	s.send = sendContext{state: SendPosting, conversationID: conv.ID, seq: seq}
	s.lastErr = nil
	s.emit(Event{Kind: EventStreamStarted, ConversationID: conv.ID})
	s.mu.Unlock()

	s.logger.Debug("send started",
		zap.String("conversation_id", conv.ID),
		zap.Uint64("seq", seq))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelActive.set(cancel)

	req := api.SendMessageRequest{Content: content, Model: &conv.Model}
	streamErr := s.streamer.Stream(streamCtx, conv.ID, req, stream.Callbacks{
		OnChunk: func(chunk stream.Chunk) {
			s.applyChunk(conv, seq, chunk)
		},
		OnComplete: func(final stream.Final) {
			s.applyComplete(conv, seq, userMsg, final)
		},
		OnError: func(err error) {
			s.applyFailure(conv, seq, err)
		},
	})

	if errors.Is(streamErr, context.Canceled) {
		s.applyCancel(conv, seq, placeholder)
		streamErr = nil
	}

	s.finishSend(seq)
	return streamErr
}

// StopStream aborts the active stream, keeping partial content. It is
// an idempotent no-op when nothing is in flight. The send slot frees
// only once the worker observes the cancellation, so a new send racing
// a stop is still rejected until then.
func (s *Store) StopStream() bool {
	return s.cancelActive.fire()
}

// =============================================================================
// NON-STREAMING SEND
// =============================================================================

// Send posts content without streaming and appends both persisted
// messages from the response. Same validation and single-flight rules
// as SendStream.
func (s *Store) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	if content == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	if s.send.state != SendIdle {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}
	conv := s.current
	s.nextSeq++
	seq := s.nextSeq
	s.send = sendContext{state: SendPosting, conversationID: conv.ID, seq: seq}
	s.lastErr = nil
	s.mu.Unlock()

	resp, err := s.client.SendMessage(ctx, conv.ID, api.SendMessageRequest{Content: content, Model: &conv.Model})

	s.mu.Lock()
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			s.mu.Unlock()
			s.evict(conv.ID)
			s.finishSend(seq)
			return nil
		}
		s.lastErr = err
		s.emit(Event{Kind: EventStreamFailed, ConversationID: conv.ID, Err: err})
		s.mu.Unlock()
		s.finishSend(seq)
		return err
	}

	conv.AddMessage(resp.UserMessage.ToModel())
	conv.AddMessage(resp.AIMessage.ToModel())
	s.emit(Event{Kind: EventMessageSent, ConversationID: conv.ID})
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.persist(snapshot)
	s.finishSend(seq)
	return nil
}

// =============================================================================
// STREAM CALLBACK APPLICATION
// =============================================================================

// live reports whether a callback belongs to the send that currently
// owns the machine and whether its conversation object is still the
// cached one. Identity matters, not just the ID: a callback landing on
// a detached object would mutate something no view reads. Stale
// callbacks after navigation or deletion must not touch state.
func (s *Store) live(conv *model.Conversation, seq uint64) bool {
	return s.send.seq == seq && s.send.state != SendIdle && s.findLocked(conv.ID) == conv
}

func (s *Store) applyChunk(conv *model.Conversation, seq uint64, chunk stream.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conv, seq) {
		return
	}
	if err := conv.AppendToStream(chunk.Content); err != nil {
		return
	}
	if s.send.state == SendPosting {
		s.send.state = SendStreaming
	}
	s.emit(Event{Kind: EventStreamChunk, ConversationID: conv.ID})
}

func (s *Store) applyComplete(conv *model.Conversation, seq uint64, userMsg *model.Message, final stream.Final) {
	s.mu.Lock()
	if !s.live(conv, seq) {
		s.mu.Unlock()
		return
	}

	userMsg.Acknowledge(final.UserMessageID)
	conv.FinalizeStream(final.MessageID)
	s.emit(Event{Kind: EventStreamCompleted, ConversationID: conv.ID})
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.logger.Debug("send completed", zap.String("conversation_id", conv.ID), zap.Uint64("seq", seq))
	s.persist(snapshot)
}

func (s *Store) applyFailure(conv *model.Conversation, seq uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live(conv, seq) {
		return
	}

	// Roll back only the placeholder; the user's message stands so
	// they can retry without retyping.
	conv.RollbackStream()
	s.lastErr = err
	s.emit(Event{Kind: EventStreamFailed, ConversationID: conv.ID, Err: err})
	s.logger.Warn("send failed", zap.String("conversation_id", conv.ID), zap.Error(err))
}

// applyCancel settles a stopped stream: partial content is kept as a
// final message, an empty placeholder is removed. Cancellation is an
// outcome, not an error.
func (s *Store) applyCancel(conv *model.Conversation, seq uint64, placeholder *model.Message) {
	s.mu.Lock()
	if !s.live(conv, seq) {
		s.mu.Unlock()
		return
	}

	if placeholder.ChunkCount() > 0 {
		conv.FinalizeStream("")
	} else {
		conv.RollbackStream()
	}
	s.emit(Event{Kind: EventStreamCancelled, ConversationID: conv.ID})
	snapshot := conv.Clone()
	s.mu.Unlock()

	s.logger.Debug("send cancelled", zap.String("conversation_id", conv.ID), zap.Uint64("seq", seq))
	s.persist(snapshot)
}

// finishSend releases the single-flight slot if seq still owns it.
func (s *Store) finishSend(seq uint64) {
	s.cancelActive.clear()
	s.mu.Lock()
	if s.send.seq == seq {
		s.send = sendContext{state: SendIdle}
	}
	s.mu.Unlock()
}
