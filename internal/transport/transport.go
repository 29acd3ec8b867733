// Package transport is the chat-platform boundary: resolving remote sticker
// references to download URLs, fetching bytes, and sending messages and
// documents back to a conversation.
package transport

import (
	"context"
	"io"
)

// StickerSet is a named collection of sticker references.
type StickerSet struct {
	Name  string
	Title string
	Items []string
}

// Transport is the chat collaborator consumed by the collection handlers and
// the pipeline. Conversation identifiers are opaque strings owned by the
// implementation.
type Transport interface {
	// ResolveLocator exchanges a sticker reference for a transient download
	// URL.
	ResolveLocator(ctx context.Context, itemRef string) (string, error)
	// Fetch opens the byte stream behind a resolved locator.
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
	// SendArchive delivers the finished zip as a document.
	SendArchive(ctx context.Context, conversationID, path string) error
	// SendFile delivers a single converted file as a document.
	SendFile(ctx context.Context, conversationID, path string) error
	// Notify sends a localized status message.
	Notify(ctx context.Context, conversationID, text string) error
	// StickerSet looks up the members of a named sticker set.
	StickerSet(ctx context.Context, name string) (StickerSet, error)
}
