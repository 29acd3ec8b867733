// Package profile persists each chat's interface language.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stickerpress/stickerpress/internal/kv"
)

const keyPrefix = "chat:"

// Profile is the per-chat preference record.
type Profile struct {
	ConversationID string `json:"conversation_id"`
	Lang           string `json:"lang"`
}

// Store reads and writes profiles in the key-value collaborator.
type Store struct {
	kv          kv.Store
	defaultLang string
	logger      *slog.Logger
}

func NewStore(log *slog.Logger, store kv.Store, defaultLang string) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		kv:          store,
		defaultLang: defaultLang,
		logger:      log.With(slog.String("service", "profile-store")),
	}
}

func key(conversationID string) string {
	return keyPrefix + conversationID
}

// Ensure returns the chat's profile, creating one with the default language
// on first contact.
func (s *Store) Ensure(ctx context.Context, conversationID string) (Profile, error) {
	raw, err := s.kv.Get(ctx, key(conversationID))
	if errors.Is(err, kv.ErrNotFound) {
		p := Profile{ConversationID: conversationID, Lang: s.defaultLang}
		if err := s.save(ctx, p); err != nil {
			return Profile{}, err
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", conversationID, err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", conversationID, err)
	}
	return p, nil
}

// SetLang switches the chat's language.
func (s *Store) SetLang(ctx context.Context, conversationID, lang string) error {
	p := Profile{ConversationID: conversationID, Lang: lang}
	return s.save(ctx, p)
}

func (s *Store) save(ctx context.Context, p Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ConversationID, err)
	}
	if err := s.kv.Set(ctx, key(p.ConversationID), raw); err != nil {
		return fmt.Errorf("save profile %s: %w", p.ConversationID, err)
	}
	return nil
}
