// Package session owns the per-conversation collection record and its state
// machine: absent (idle) -> collecting -> locked -> absent again once the
// pipeline reaches a terminal outcome.
package session

import (
	"time"
)

// Session is the persisted record for one conversation. A record exists if
// and only if the conversation is collecting or locked; absence is the idle
// state.
type Session struct {
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	// Items are remote sticker references with set semantics; duplicates are
	// rejected at insertion. Order is kept for stable serialization only.
	Items          []string `json:"items"`
	SourcePaths    []string `json:"source_paths"`
	ConvertedPaths []string `json:"converted_paths"`
	// Locked is false while collecting and true from the moment a finish is
	// accepted until the record is removed.
	Locked bool `json:"locked"`
}

// New returns a fresh collecting session.
func New(conversationID string, startedAt time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		StartedAt:      startedAt.UTC(),
	}
}

// HasItem reports whether ref was already collected.
func (s *Session) HasItem(ref string) bool {
	for _, item := range s.Items {
		if item == ref {
			return true
		}
	}
	return false
}

// AddItem inserts ref, reporting false for an exact duplicate.
func (s *Session) AddItem(ref string) bool {
	if s.HasItem(ref) {
		return false
	}
	s.Items = append(s.Items, ref)
	return true
}

// AddSourcePath records a downloaded file. Only pipeline stages call this,
// and only on a locked session.
func (s *Session) AddSourcePath(path string) {
	for _, p := range s.SourcePaths {
		if p == path {
			return
		}
	}
	s.SourcePaths = append(s.SourcePaths, path)
}

// AddConvertedPath records a converted file.
func (s *Session) AddConvertedPath(path string) {
	for _, p := range s.ConvertedPaths {
		if p == path {
			return
		}
	}
	s.ConvertedPaths = append(s.ConvertedPaths, path)
}

// Clone returns a deep copy used as the immutable hand-off snapshot.
func (s *Session) Clone() *Session {
	out := *s
	out.Items = append([]string(nil), s.Items...)
	out.SourcePaths = append([]string(nil), s.SourcePaths...)
	out.ConvertedPaths = append([]string(nil), s.ConvertedPaths...)
	return &out
}
