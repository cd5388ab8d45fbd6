// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies a store mutation.
type EventKind int

const (
	// EventConversationsLoaded fires after a listing refresh or page load.
	EventConversationsLoaded EventKind = iota

	// EventConversationSelected fires when the current conversation changes.
	EventConversationSelected

	// EventConversationCreated fires after a conversation is created.
	EventConversationCreated

	// EventConversationDeleted fires after a conversation is deleted.
	EventConversationDeleted

	// EventConversationRenamed fires after a title update.
	EventConversationRenamed

	// EventConversationEvicted fires when the server reports a cached
	// conversation gone and the local copy is dropped.
	EventConversationEvicted

	// EventStreamStarted fires when a send begins.
	EventStreamStarted

	// EventStreamChunk fires per appended chunk.
	EventStreamChunk

	// EventStreamCompleted fires when a stream finishes cleanly.
	EventStreamCompleted

	// EventStreamFailed fires when a stream terminates with an error.
	EventStreamFailed

	// EventStreamCancelled fires when the user stops a stream.
	EventStreamCancelled

	// EventMessageSent fires after a non-streaming send completes.
	EventMessageSent
)

// String returns the event name for logging.
func (k EventKind) String() string {
	switch k {
	case EventConversationsLoaded:
		return "conversations_loaded"
	case EventConversationSelected:
		return "conversation_selected"
	case EventConversationCreated:
		return "conversation_created"
	case EventConversationDeleted:
		return "conversation_deleted"
	case EventConversationRenamed:
		return "conversation_renamed"
	case EventConversationEvicted:
		return "conversation_evicted"
	case EventStreamStarted:
		return "stream_started"
	case EventStreamChunk:
		return "stream_chunk"
	case EventStreamCompleted:
		return "stream_completed"
	case EventStreamFailed:
		return "stream_failed"
	case EventStreamCancelled:
		return "stream_cancelled"
	case EventMessageSent:
		return "message_sent"
	default:
		return "unknown"
	}
}

// Event notifies subscribers of a committed mutation. Subscribers
// re-read store state on receipt; the event itself carries only routing
// information.
type Event struct {
	Kind           EventKind
	ConversationID string
	Err            error
}

// emit delivers an event without ever blocking a mutation. When the
// subscriber lags behind a fast stream, the oldest queued event is
// dropped; every event prompts a full re-read, so recency wins.
func (s *Store) emit(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}

// Events returns the subscription channel. The store never closes it.
func (s *Store) Events() <-chan Event {
	return s.events
}
