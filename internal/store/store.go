// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/morganforge/converse-tui/internal/api"
	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/storage"
	"github.com/morganforge/converse-tui/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage rejects whitespace-only input before any request.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSendInFlight rejects a send while another is active.
	ErrSendInFlight = errors.New("a send is already in flight")

	// ErrNoConversation rejects a send with no conversation selected.
	ErrNoConversation = errors.New("no conversation selected")

	// ErrEmptyTitle rejects a rename to a blank title.
	ErrEmptyTitle = errors.New("title is empty")
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// APIClient is the REST surface the store consumes. *api.Client
// satisfies it; tests substitute fakes.
type APIClient interface {
	ListConversations(ctx context.Context, page, pageSize int) (*api.ListConversationsResponse, error)
	GetConversation(ctx context.Context, id string) (*api.ConversationDTO, error)
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*api.ConversationDTO, error)
	RenameConversation(ctx context.Context, id, title string) (*api.ConversationDTO, error)
	DeleteConversation(ctx context.Context, id string) error
	SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (*api.SendMessageResponse, error)
}

// Streamer is the streaming transport surface. *stream.Transport
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context, conversationID string, req api.SendMessageRequest, cb stream.Callbacks) error
}

// HistoryCache is the local persistence surface. *storage.Store
// satisfies it.
type HistoryCache interface {
	SaveConversation(conv *model.Conversation) error
	LoadConversation(id string) (*model.Conversation, error)
	List() ([]model.Meta, error)
	Delete(id string) error
	SaveState(state storage.State) error
	LoadState() storage.State
}

// =============================================================================
// STORE
// =============================================================================

const defaultPageSize = 30

// Store is the client-side state container: the cached conversation
// list, the selected conversation, and the single-flight send machine.
// All collaborators are injected; the store owns every mutation and
// subscribers react to its events.
type Store struct {
	mu sync.Mutex

	conversations []*model.Conversation
	current       *model.Conversation
	page          int
	total         int
	hasMore       bool

	send    sendContext
	lastErr error
	nextSeq uint64

	client   APIClient
	streamer Streamer
	history  HistoryCache
	logger   *zap.Logger

	defaultModel model.ModelRef
	systemPrompt string

	cancelActive *cancelHandle
	events       chan Event
}

// Options configures a Store.
type Options struct {
	Client       APIClient
	Streamer     Streamer
	History      HistoryCache
	Logger       *zap.Logger
	DefaultModel model.ModelRef
	SystemPrompt string
}

// New creates a store. History and Logger may be nil.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:       opts.Client,
		streamer:     opts.Streamer,
		history:      opts.History,
		logger:       logger,
		defaultModel: opts.DefaultModel,
		systemPrompt: opts.SystemPrompt,
		cancelActive: &cancelHandle{},
		events:       make(chan Event, 256),
	}
}

// =============================================================================
// SNAPSHOT ACCESS
// =============================================================================

// Current returns a deep copy of the selected conversation, or nil.
// Copies keep renders safe while a stream mutates the original.
func (s *Store) Current() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// CurrentID returns the selected conversation ID, or "".
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// Conversations returns listing metadata for the cached conversations.
func (s *Store) Conversations() []model.Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	metas := make([]model.Meta, len(s.conversations))
	for i, c := range s.conversations {
		metas[i] = c.Meta()
	}
	return metas
}

// Pagination returns the last observed listing page info.
func (s *Store) Pagination() (page, total int, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, s.total, s.hasMore
}

// SendState returns the send machine state.
func (s *Store) SendState() SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.state
}

// LastError returns the most recent terminal send failure, cleared by
// the next send.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// =============================================================================
// RESTORE
// =============================================================================

// Restore loads the cached conversation list and last selection from
// disk. It never touches the network; callers refresh afterwards.
func (s *Store) Restore() {
	if s.history == nil {
		return
	}

	metas, err := s.history.List()
	if err != nil {
		s.logger.Warn("failed to restore history", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, meta := range metas {
		s.conversations = append(s.conversations, &model.Conversation{
			ID:        meta.ID,
			Title:     meta.Title,
			Model:     meta.Model,
			UpdatedAt: meta.UpdatedAt,
		})
	}

	state := s.history.LoadState()
	if state.CurrentConversationID != "" {
		if conv, err := s.history.LoadConversation(state.CurrentConversationID); err == nil {
			s.current = s.replaceLocked(conv)
		}
	}
	s.emit(Event{Kind: EventConversationsLoaded})
}

// =============================================================================
// LISTING
// =============================================================================

// Refresh replaces the cache with the first listing page. When the
// server is unreachable the cached copy stands.
func (s *Store) Refresh(ctx context.Context) error {
	resp, err := s.client.ListConversations(ctx, 1, defaultPageSize)
	if err != nil {
		s.logger.Warn("refresh failed, keeping cached list", zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]*model.Conversation, 0, len(resp.Conversations))
	for _, dto := range resp.Conversations {
		conv := dto.ToModel()
		// Keep message history already loaded for the selection, and
		// keep the object bound to an in-flight send: its stream
		// callbacks hold a pointer to it.
		if s.current != nil && s.current.ID == conv.ID {
			s.current.Title = conv.Title
			s.current.UpdatedAt = conv.UpdatedAt
			conv = s.current
		} else if s.send.state != SendIdle && s.send.conversationID == conv.ID {
			if existing := s.findLocked(conv.ID); existing != nil {
				existing.Title = conv.Title
				existing.UpdatedAt = conv.UpdatedAt
				conv = existing
			}
		}
		fresh = append(fresh, conv)
	}
	s.conversations = fresh
	s.page = resp.Pagination.Page
	s.total = resp.Pagination.Total
	s.hasMore = resp.Pagination.HasMore

	// The selection may have been deleted on another client.
	if s.current != nil && s.findLocked(s.current.ID) == nil {
		s.conversations = append([]*model.Conversation{s.current}, s.conversations...)
	}

	s.emit(Event{Kind: EventConversationsLoaded})
	return nil
}

// LoadMore appends the next listing page.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	next := s.page + 1
	s.mu.Unlock()

	resp, err := s.client.ListConversations(ctx, next, defaultPageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dto := range resp.Conversations {
		if s.findLocked(dto.ID) != nil {
			continue
		}
		s.conversations = append(s.conversations, dto.ToModel())
	}
	s.page = resp.Pagination.Page
	s.total = resp.Pagination.Total
	s.hasMore = resp.Pagination.HasMore
	s.emit(Event{Kind: EventConversationsLoaded})
	return nil
}

// =============================================================================
// SELECTION AND CRUD
// =============================================================================

// Select makes a conversation current, fetching its messages. A 404
// means the cache was stale: the local copy is evicted silently and no
// error is returned. Other fetch failures fall back to the local cache
// when possible.
func (s *Store) Select(ctx context.Context, id string) error {
	dto, err := s.client.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			s.evict(id)
			return nil
		}
		if s.history != nil {
			if conv, cacheErr := s.history.LoadConversation(id); cacheErr == nil {
				s.logger.Warn("using cached conversation, fetch failed", zap.String("conversation_id", id), zap.Error(err))
				s.setCurrent(conv)
				return nil
			}
		}
		return err
	}

	conv := s.setCurrent(dto.ToModel())

	s.mu.Lock()
	snapshot := conv.Clone()
	s.mu.Unlock()
	s.persist(snapshot)
	return nil
}

// Create creates a conversation with the store defaults and selects it.
func (s *Store) Create(ctx context.Context, title string) (*model.Conversation, error) {
	dto, err := s.client.CreateConversation(ctx, api.CreateConversationRequest{
		Title:        strings.TrimSpace(title),
		Model:        s.defaultModel,
		SystemPrompt: s.systemPrompt,
	})
	if err != nil {
		return nil, err
	}

	conv := dto.ToModel()

	s.mu.Lock()
	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.current = conv
	s.total++
	s.emit(Event{Kind: EventConversationCreated, ConversationID: conv.ID})
	s.emit(Event{Kind: EventConversationSelected, ConversationID: conv.ID})
	s.mu.Unlock()

	s.persist(conv)
	return conv.Clone(), nil
}

// Delete removes a conversation on the server and locally. A 404 is
// treated as success. An in-flight send bound to it is aborted.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.DeleteConversation(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}

	s.mu.Lock()
	sendBound := s.send.state != SendIdle && s.send.conversationID == id
	s.removeLocked(id)
	if s.total > 0 {
		s.total--
	}
	s.emit(Event{Kind: EventConversationDeleted, ConversationID: id})
	s.mu.Unlock()

	if sendBound {
		s.cancelActive.fire()
	}
	s.dropHistory(id)
	s.persistState()
	return nil
}

// Rename updates a conversation title. A 404 evicts the local copy.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	dto, err := s.client.RenameConversation(ctx, id, title)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			s.evict(id)
			return nil
		}
		return err
	}

	s.mu.Lock()
	var snapshot *model.Conversation
	if conv := s.findLocked(id); conv != nil {
		conv.Title = dto.Title
		conv.UpdatedAt = dto.UpdatedAt
		snapshot = conv.Clone()
	}
	s.emit(Event{Kind: EventConversationRenamed, ConversationID: id})
	s.mu.Unlock()

	if snapshot != nil {
		s.persist(snapshot)
	}
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Store) findLocked(id string) *model.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) removeLocked(id string) {
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.current != nil && s.current.ID == id {
		s.current = nil
	}
}

// replaceLocked swaps a cached shell for the full conversation, keeping
// list order; unknown conversations are prepended. It returns the
// canonical cached object: the conversation bound to the in-flight send
// keeps its identity (stream callbacks hold a pointer to it), so server
// fields are merged into it instead of swapping it out.
func (s *Store) replaceLocked(conv *model.Conversation) *model.Conversation {
	for i, c := range s.conversations {
		if c.ID != conv.ID {
			continue
		}
		if s.send.state != SendIdle && s.send.conversationID == conv.ID {
			c.Title = conv.Title
			c.UpdatedAt = conv.UpdatedAt
			return c
		}
		s.conversations[i] = conv
		return conv
	}
	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	return conv
}

func (s *Store) setCurrent(conv *model.Conversation) *model.Conversation {
	s.mu.Lock()
	conv = s.replaceLocked(conv)
	s.current = conv
	s.emit(Event{Kind: EventConversationSelected, ConversationID: conv.ID})
	s.mu.Unlock()
	s.persistState()
	return conv
}

// evict drops a conversation the server no longer knows about. This is
// cache invalidation, not an error.
func (s *Store) evict(id string) {
	s.logger.Info("evicting stale conversation", zap.String("conversation_id", id))

	s.mu.Lock()
	s.removeLocked(id)
	if s.total > 0 {
		s.total--
	}
	s.emit(Event{Kind: EventConversationEvicted, ConversationID: id})
	s.mu.Unlock()

	s.dropHistory(id)
	s.persistState()
}

func (s *Store) dropHistory(id string) {
	if s.history == nil {
		return
	}
	if err := s.history.Delete(id); err != nil {
		s.logger.Warn("failed to delete cached conversation", zap.String("conversation_id", id), zap.Error(err))
	}
}

func (s *Store) persist(conv *model.Conversation) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveConversation(conv); err != nil {
		s.logger.Warn("failed to persist conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	s.persistState()
}

func (s *Store) persistState() {
	if s.history == nil {
		return
	}
	if err := s.history.SaveState(storage.State{CurrentConversationID: s.CurrentID()}); err != nil {
		s.logger.Warn("failed to persist state", zap.Error(err))
	}
}
