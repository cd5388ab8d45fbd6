// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/morganforge/converse-tui/internal/api"
	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/storage"
	"github.com/morganforge/converse-tui/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAPI struct {
	listFn   func(ctx context.Context, page, pageSize int) (*api.ListConversationsResponse, error)
	getFn    func(ctx context.Context, id string) (*api.ConversationDTO, error)
	createFn func(ctx context.Context, req api.CreateConversationRequest) (*api.ConversationDTO, error)
	renameFn func(ctx context.Context, id, title string) (*api.ConversationDTO, error)
	deleteFn func(ctx context.Context, id string) error
	sendFn   func(ctx context.Context, conversationID string, req api.SendMessageRequest) (*api.SendMessageResponse, error)
}

func (f *fakeAPI) ListConversations(ctx context.Context, page, pageSize int) (*api.ListConversationsResponse, error) {
	if f.listFn == nil {
		return &api.ListConversationsResponse{Pagination: api.Pagination{Page: 1}}, nil
	}
	return f.listFn(ctx, page, pageSize)
}

func (f *fakeAPI) GetConversation(ctx context.Context, id string) (*api.ConversationDTO, error) {
	return f.getFn(ctx, id)
}

func (f *fakeAPI) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*api.ConversationDTO, error) {
	return f.createFn(ctx, req)
}

func (f *fakeAPI) RenameConversation(ctx context.Context, id, title string) (*api.ConversationDTO, error) {
	return f.renameFn(ctx, id, title)
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (*api.SendMessageResponse, error) {
	return f.sendFn(ctx, conversationID, req)
}

type fakeStreamer struct {
	run func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error
}

func (f *fakeStreamer) Stream(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
	return f.run(ctx, conversationID, req, cb)
}

// =============================================================================
// HELPERS
// =============================================================================

func conversationDTO(id string) *api.ConversationDTO {
	return &api.ConversationDTO{
		ID:        id,
		Title:     "Conversation " + id,
		Model:     model.ModelRef{Name: "gpt-4o"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func newTestStore(t *testing.T, client APIClient, streamer Streamer) *Store {
	t.Helper()
	return New(Options{
		Client:       client,
		Streamer:     streamer,
		History:      storage.NewStore(t.TempDir(), 0, nil),
		DefaultModel: model.ModelRef{Name: "gpt-4o"},
	})
}

// selectConversation seeds the store with one conversation and makes it
// current.
func selectConversation(t *testing.T, s *Store, client *fakeAPI, id string) {
	t.Helper()
	client.getFn = func(ctx context.Context, gotID string) (*api.ConversationDTO, error) {
		return conversationDTO(gotID), nil
	}
	require.NoError(t, s.Select(context.Background(), id))
	require.Equal(t, id, s.CurrentID())
}

func drainEvents(s *Store) []Event {
	var events []Event
	for {
		select {
		case ev := <-s.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventKinds(events []Event) []EventKind {
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// =============================================================================
// STREAMING SEND
// =============================================================================

func TestSendStreamHappyPath(t *testing.T) {
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			assert.Equal(t, "conv-1", conversationID)
			assert.Equal(t, "tell me a joke", req.Content)
			cb.OnChunk(stream.Chunk{Content: "Why did ", UserMessageID: "msg-user"})
			cb.OnChunk(stream.Chunk{Content: "the gopher "})
			cb.OnChunk(stream.Chunk{Content: "cross the road"})
			cb.OnComplete(stream.Final{MessageID: "msg-ai", UserMessageID: "msg-user"})
			return nil
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")
	drainEvents(s)

	require.NoError(t, s.SendStream(context.Background(), "tell me a joke"))

	conv := s.Current()
	require.Len(t, conv.Messages, 2)

	user := conv.Messages[0]
	assert.Equal(t, model.RoleUser, user.Role)
	assert.Equal(t, "tell me a joke", user.Content)
	assert.Equal(t, "msg-user", user.ID, "user message adopts the server ID")
	assert.Equal(t, model.MessageFinal, user.State)

	ai := conv.Messages[1]
	assert.Equal(t, model.RoleAssistant, ai.Role)
	assert.Equal(t, "Why did the gopher cross the road", ai.Content)
	assert.Equal(t, "msg-ai", ai.ID)
	assert.Equal(t, model.MessageFinal, ai.State)

	assert.Equal(t, SendIdle, s.SendState())
	assert.NoError(t, s.LastError())

	kinds := eventKinds(drainEvents(s))
	assert.Contains(t, kinds, EventStreamStarted)
	assert.Contains(t, kinds, EventStreamChunk)
	assert.Contains(t, kinds, EventStreamCompleted)
	assert.NotContains(t, kinds, EventStreamFailed)
}

func TestSendStreamFailureRollsBackPlaceholder(t *testing.T) {
	failure := &api.APIError{Status: 500, Message: "model exploded"}
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			cb.OnChunk(stream.Chunk{Content: "partial "})
			cb.OnError(failure)
			return failure
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")

	err := s.SendStream(context.Background(), "question")
	require.Error(t, err)

	conv := s.Current()
	require.Len(t, conv.Messages, 1, "placeholder must be rolled back")
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role, "user message must survive the failure")
	assert.Equal(t, SendIdle, s.SendState())
	assert.ErrorIs(t, s.LastError(), api.ErrServer)
}

func TestSendStreamRejectsEmptyInput(t *testing.T) {
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			t.Fatal("transport must not be reached for empty input")
			return nil
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")

	err := s.SendStream(context.Background(), "   \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.Current().Messages, "validation failure must not mutate state")
	assert.Equal(t, SendIdle, s.SendState())
}

func TestSendStreamRequiresConversation(t *testing.T) {
	s := newTestStore(t, &fakeAPI{}, &fakeStreamer{})
	err := s.SendStream(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestSendStreamSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			startOnce.Do(func() { close(started) })
			<-release
			cb.OnComplete(stream.Final{})
			return nil
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SendStream(context.Background(), "first")
	}()

	<-started
	err := s.SendStream(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	wg.Wait()

	assert.Equal(t, SendIdle, s.SendState())
	require.NoError(t, s.SendStream(context.Background(), "third"), "slot must free after the first send settles")
}

func TestStopStreamKeepsPartialContent(t *testing.T) {
	started := make(chan struct{})
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			cb.OnChunk(stream.Chunk{Content: "partial answer"})
			close(started)
			<-ctx.Done()
			// Transport contract: caller abort fires no callbacks.
			return context.Canceled
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")
	drainEvents(s)

	var wg sync.WaitGroup
	var sendErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		sendErr = s.SendStream(context.Background(), "question")
	}()

	<-started
	assert.True(t, s.StopStream())
	wg.Wait()

	assert.NoError(t, sendErr, "cancellation is an outcome, not an error")

	conv := s.Current()
	require.Len(t, conv.Messages, 2)
	ai := conv.Messages[1]
	assert.Equal(t, "partial answer", ai.Content, "partial content must be kept")
	assert.Equal(t, model.MessageFinal, ai.State)
	assert.Equal(t, SendIdle, s.SendState())
	assert.NoError(t, s.LastError())

	kinds := eventKinds(drainEvents(s))
	assert.Contains(t, kinds, EventStreamCancelled)
	assert.NotContains(t, kinds, EventStreamFailed)
}

func TestStopStreamBeforeChunksRollsBack(t *testing.T) {
	started := make(chan struct{})
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			close(started)
			<-ctx.Done()
			return context.Canceled
		},
	}
	s := newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SendStream(context.Background(), "question")
	}()

	<-started
	s.StopStream()
	wg.Wait()

	conv := s.Current()
	require.Len(t, conv.Messages, 1, "empty placeholder must be removed")
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
}

func TestStopStreamIdleIsNoOp(t *testing.T) {
	s := newTestStore(t, &fakeAPI{}, &fakeStreamer{})

	assert.False(t, s.StopStream())
	assert.False(t, s.StopStream(), "repeated stops stay no-ops")
	assert.Equal(t, SendIdle, s.SendState())
	assert.Empty(t, drainEvents(s))
}

// =============================================================================
// NON-STREAMING SEND
// =============================================================================

func TestSendFallback(t *testing.T) {
	client := &fakeAPI{
		sendFn: func(ctx context.Context, conversationID string, req api.SendMessageRequest) (*api.SendMessageResponse, error) {
			return &api.SendMessageResponse{
				UserMessage: api.MessageDTO{ID: "msg-u", Role: "user", Content: req.Content},
				AIMessage:   api.MessageDTO{ID: "msg-a", Role: "assistant", Content: "full reply"},
			}, nil
		},
	}
	s := newTestStore(t, client, &fakeStreamer{})
	selectConversation(t, s, client, "conv-1")

	require.NoError(t, s.Send(context.Background(), "hello"))

	conv := s.Current()
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "msg-u", conv.Messages[0].ID)
	assert.Equal(t, "full reply", conv.Messages[1].Content)
	assert.Equal(t, SendIdle, s.SendState())
}

// =============================================================================
// CRUD AND CACHE INVALIDATION
// =============================================================================

func TestSelectNotFoundEvictsSilently(t *testing.T) {
	client := &fakeAPI{}
	s := newTestStore(t, client, &fakeStreamer{})
	selectConversation(t, s, client, "conv-1")
	drainEvents(s)

	client.getFn = func(ctx context.Context, id string) (*api.ConversationDTO, error) {
		return nil, &api.APIError{Status: 404, Message: "gone"}
	}

	err := s.Select(context.Background(), "conv-1")
	assert.NoError(t, err, "a stale reference is cache invalidation, not a failure")
	assert.Empty(t, s.CurrentID())
	assert.Empty(t, s.Conversations())

	kinds := eventKinds(drainEvents(s))
	assert.Contains(t, kinds, EventConversationEvicted)
}

func TestDeleteNotFoundTreatedAsSuccess(t *testing.T) {
	client := &fakeAPI{
		deleteFn: func(ctx context.Context, id string) error {
			return &api.APIError{Status: 404, Message: "already gone"}
		},
	}
	s := newTestStore(t, client, &fakeStreamer{})
	selectConversation(t, s, client, "conv-1")

	assert.NoError(t, s.Delete(context.Background(), "conv-1"))
	assert.Empty(t, s.CurrentID())
}

func TestCreateSelectsNewConversation(t *testing.T) {
	client := &fakeAPI{
		createFn: func(ctx context.Context, req api.CreateConversationRequest) (*api.ConversationDTO, error) {
			assert.Equal(t, "gpt-4o", req.Model.Name)
			return conversationDTO("conv-new"), nil
		},
	}
	s := newTestStore(t, client, &fakeStreamer{})

	conv, err := s.Create(context.Background(), "  fresh start  ")
	require.NoError(t, err)
	assert.Equal(t, "conv-new", conv.ID)
	assert.Equal(t, "conv-new", s.CurrentID())
	require.Len(t, s.Conversations(), 1)
}

func TestRefreshReplacesCache(t *testing.T) {
	client := &fakeAPI{
		listFn: func(ctx context.Context, page, pageSize int) (*api.ListConversationsResponse, error) {
			return &api.ListConversationsResponse{
				Conversations: []api.ConversationDTO{*conversationDTO("conv-1"), *conversationDTO("conv-2")},
				Pagination:    api.Pagination{Page: 1, Total: 2, HasMore: false},
			}, nil
		},
	}
	s := newTestStore(t, client, &fakeStreamer{})

	require.NoError(t, s.Refresh(context.Background()))
	assert.Len(t, s.Conversations(), 2)
	page, total, hasMore := s.Pagination()
	assert.Equal(t, 1, page)
	assert.Equal(t, 2, total)
	assert.False(t, hasMore)
}

func TestLoadMoreAppendsNextPage(t *testing.T) {
	client := &fakeAPI{
		listFn: func(ctx context.Context, page, pageSize int) (*api.ListConversationsResponse, error) {
			if page <= 1 {
				return &api.ListConversationsResponse{
					Conversations: []api.ConversationDTO{*conversationDTO("conv-1")},
					Pagination:    api.Pagination{Page: 1, Total: 2, HasMore: true},
				}, nil
			}
			return &api.ListConversationsResponse{
				Conversations: []api.ConversationDTO{*conversationDTO("conv-2")},
				Pagination:    api.Pagination{Page: 2, Total: 2, HasMore: false},
			}, nil
		},
	}
	s := newTestStore(t, client, &fakeStreamer{})

	require.NoError(t, s.Refresh(context.Background()))
	require.NoError(t, s.LoadMore(context.Background()))
	assert.Len(t, s.Conversations(), 2)

	// Exhausted paging is a no-op.
	require.NoError(t, s.LoadMore(context.Background()))
	assert.Len(t, s.Conversations(), 2)
}

func TestRenameRejectsEmptyTitle(t *testing.T) {
	s := newTestStore(t, &fakeAPI{}, &fakeStreamer{})
	assert.ErrorIs(t, s.Rename(context.Background(), "conv-1", "  "), ErrEmptyTitle)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	history := storage.NewStore(dir, 0, nil)
	client := &fakeAPI{}
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			cb.OnChunk(stream.Chunk{Content: "persisted reply"})
			cb.OnComplete(stream.Final{MessageID: "msg-ai", UserMessageID: "msg-u"})
			return nil
		},
	}
	s := New(Options{Client: client, Streamer: streamer, History: history, DefaultModel: model.ModelRef{Name: "gpt-4o"}})
	selectConversation(t, s, client, "conv-1")
	require.NoError(t, s.SendStream(context.Background(), "question"))

	// Fresh store over the same directory, as after a restart.
	restarted := New(Options{Client: client, Streamer: streamer, History: storage.NewStore(dir, 0, nil)})
	restarted.Restore()

	assert.Equal(t, "conv-1", restarted.CurrentID())
	conv := restarted.Current()
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "persisted reply", conv.Messages[1].Content)
	assert.Equal(t, SendIdle, restarted.SendState(), "transient send state must not persist")
}

func TestSendStreamSurvivesMidStreamReselect(t *testing.T) {
	client := &fakeAPI{}
	var s *Store
	streamer := &fakeStreamer{
		run: func(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error {
			cb.OnChunk(stream.Chunk{Content: "Hi ", UserMessageID: "msg-user"})
			// Re-selecting the streaming conversation fetches it again.
			// The cached object must keep its identity so the stream
			// keeps landing in what the view reads.
			require.NoError(t, s.Select(ctx, conversationID))
			cb.OnChunk(stream.Chunk{Content: "there"})
			cb.OnComplete(stream.Final{MessageID: "msg-ai", UserMessageID: "msg-user"})
			return nil
		},
	}
	s = newTestStore(t, client, streamer)
	selectConversation(t, s, client, "conv-1")

	require.NoError(t, s.SendStream(context.Background(), "hello"))

	conv := s.Current()
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2, "re-select must not detach the streaming conversation")
	assert.Equal(t, "hello", conv.Messages[0].Content)
	assert.Equal(t, "Hi there", conv.Messages[1].Content)
	assert.Equal(t, model.MessageFinal, conv.Messages[1].State)
	assert.Equal(t, "conv-1", s.CurrentID())
}

// failingHistory is a HistoryCache whose deletes always fail.
type failingHistory struct {
	deleteErr error
}

func (h *failingHistory) SaveConversation(*model.Conversation) error { return nil }
func (h *failingHistory) LoadConversation(string) (*model.Conversation, error) {
	return nil, errors.New("not cached")
}
func (h *failingHistory) List() ([]model.Meta, error)   { return nil, nil }
func (h *failingHistory) Delete(string) error           { return h.deleteErr }
func (h *failingHistory) SaveState(storage.State) error { return nil }
func (h *failingHistory) LoadState() storage.State      { return storage.State{} }

func TestDeleteWarnsOnHistoryFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	client := &fakeAPI{}
	s := New(Options{
		Client:   client,
		Streamer: &fakeStreamer{},
		History:  &failingHistory{deleteErr: errors.New("disk gone")},
		Logger:   zap.New(core),
	})

	require.NoError(t, s.Delete(context.Background(), "conv-1"))

	entries := logs.FilterMessage("failed to delete cached conversation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-1", entries[0].ContextMap()["conversation_id"])
}
