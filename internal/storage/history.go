// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/morganforge/converse-tui/internal/model"
	"github.com/morganforge/converse-tui/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// HistoryError wraps history cache failures with the conversation ID.
type HistoryError struct {
	ID      string
	Op      string
	Err     error
	Missing bool
}

func (e *HistoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("history %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("history %s %s", e.Op, e.ID)
}

func (e *HistoryError) Unwrap() error { return e.Err }

// ErrNotCached indicates the conversation has no local copy.
var ErrNotCached = &HistoryError{Op: "load", Missing: true}

// Is lets callers match any missing-cache error against ErrNotCached.
func (e *HistoryError) Is(target error) bool {
	if he, ok := target.(*HistoryError); ok {
		return he.Missing == e.Missing && (he.ID == "" || he.ID == e.ID)
	}
	return false
}

// =============================================================================
// STORE
// =============================================================================

// Store caches conversations on disk, one JSON file per conversation
// plus a state file with the last selected conversation. It is a cache
// of server state: the backend stays authoritative.
type Store struct {
	baseDir          string
	maxConversations int
	logger           *zap.Logger
}

// NewStore creates a history store rooted at baseDir. maxConversations
// of zero disables pruning.
func NewStore(baseDir string, maxConversations int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		baseDir:          baseDir,
		maxConversations: maxConversations,
		logger:           logger,
	}
}

// storedConversation is the on-disk shape. Only settled messages are
// written: pending and streaming messages never survive a restart.
type storedConversation struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Model        model.ModelRef  `json:"model"`
	SystemPrompt string          `json:"systemPrompt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Messages     []storedMessage `json:"messages"`
}

type storedMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SaveConversation writes a conversation to the cache atomically.
func (s *Store) SaveConversation(conv *model.Conversation) error {
	if conv.ID == "" {
		return &HistoryError{Op: "save", Err: fmt.Errorf("conversation has no ID")}
	}

	stored := storedConversation{
		ID:           conv.ID,
		Title:        conv.Title,
		Model:        conv.Model,
		SystemPrompt: conv.SystemPrompt,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, m := range conv.Messages {
		if m.State != model.MessageFinal {
			continue
		}
		stored.Messages = append(stored.Messages, storedMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return &HistoryError{ID: conv.ID, Op: "save", Err: err}
	}
	if err := util.AtomicWriteFile(s.conversationPath(conv.ID), data, 0600); err != nil {
		return &HistoryError{ID: conv.ID, Op: "save", Err: err}
	}

	s.enforceLimit()
	return nil
}

// LoadConversation reads a cached conversation.
func (s *Store) LoadConversation(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.conversationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &HistoryError{ID: id, Op: "load", Missing: true}
		}
		return nil, &HistoryError{ID: id, Op: "load", Err: err}
	}

	var stored storedConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, &HistoryError{ID: id, Op: "load", Err: err}
	}

	conv := &model.Conversation{
		ID:           stored.ID,
		Title:        stored.Title,
		Model:        stored.Model,
		SystemPrompt: stored.SystemPrompt,
		CreatedAt:    stored.CreatedAt,
		UpdatedAt:    stored.UpdatedAt,
	}
	for _, m := range stored.Messages {
		conv.Messages = append(conv.Messages, model.NewFinalMessage(m.ID, model.Role(m.Role), m.Content, m.CreatedAt))
	}
	return conv, nil
}

// List returns cached conversation metadata, newest first. Corrupt
// files are skipped, not fatal.
func (s *Store) List() ([]model.Meta, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history dir: %w", err)
	}

	var metas []model.Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || entry.Name() == stateFileName {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var stored storedConversation
		if err := json.Unmarshal(data, &stored); err != nil {
			s.logger.Warn("skipping corrupt history file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		metas = append(metas, model.Meta{
			ID:           stored.ID,
			Title:        stored.Title,
			Model:        stored.Model,
			UpdatedAt:    stored.UpdatedAt,
			MessageCount: len(stored.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes a cached conversation. Deleting a conversation that
// was never cached is not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.conversationPath(id))
	if err != nil && !os.IsNotExist(err) {
		return &HistoryError{ID: id, Op: "delete", Err: err}
	}
	return nil
}

// Clear removes the whole cache including the state file.
func (s *Store) Clear() error {
	err := os.RemoveAll(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// =============================================================================
// STATE SNAPSHOT
// =============================================================================

const stateFileName = "state.json"

// State is the slice of client state that survives restarts. Transient
// send state and errors are deliberately absent.
type State struct {
	CurrentConversationID string    `json:"currentConversationId,omitempty"`
	SavedAt               time.Time `json:"savedAt"`
}

// SaveState persists the snapshot atomically.
func (s *Store) SaveState(state State) error {
	state.SavedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return util.AtomicWriteFile(filepath.Join(s.baseDir, stateFileName), data, 0600)
}

// LoadState reads the snapshot. A missing or corrupt state file yields
// the zero state.
func (s *Store) LoadState() State {
	data, err := os.ReadFile(filepath.Join(s.baseDir, stateFileName))
	if err != nil {
		return State{}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("discarding corrupt state file", zap.Error(err))
		return State{}
	}
	return state
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Store) conversationPath(id string) string {
	return filepath.Join(s.baseDir, sanitizeID(id)+".json")
}

// sanitizeID keeps file names safe regardless of what the server uses
// for conversation IDs.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// enforceLimit prunes the oldest cached conversations beyond the cap.
func (s *Store) enforceLimit() {
	if s.maxConversations <= 0 {
		return
	}
	metas, err := s.List()
	if err != nil || len(metas) <= s.maxConversations {
		return
	}
	for _, meta := range metas[s.maxConversations:] {
		if err := s.Delete(meta.ID); err != nil {
			s.logger.Warn("failed to prune history", zap.String("conversation_id", meta.ID), zap.Error(err))
		}
	}
}
