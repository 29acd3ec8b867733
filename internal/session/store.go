package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stickerpress/stickerpress/internal/kv"
)

const keyPrefix = "pack:"

// Key derives the kv key for one conversation's session record.
func Key(conversationID string) string {
	return keyPrefix + conversationID
}

// Store persists session records in the key-value collaborator. It keeps no
// in-process cache: concurrent handlers for the same chat must always observe
// the current persisted value.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

func NewStore(log *slog.Logger, store kv.Store) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		kv:     store,
		logger: log.With(slog.String("service", "session-store")),
	}
}

// Load returns the current record, or nil when the conversation is idle.
func (s *Store) Load(ctx context.Context, conversationID string) (*Session, error) {
	raw, err := s.kv.Get(ctx, Key(conversationID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", conversationID, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", conversationID, err)
	}
	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ConversationID, err)
	}
	if err := s.kv.Set(ctx, Key(sess.ConversationID), raw); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ConversationID, err)
	}
	return nil
}

// Remove deletes the record. Removing an absent record is not an error.
func (s *Store) Remove(ctx context.Context, conversationID string) error {
	if err := s.kv.Delete(ctx, Key(conversationID)); err != nil {
		return fmt.Errorf("remove session %s: %w", conversationID, err)
	}
	return nil
}
