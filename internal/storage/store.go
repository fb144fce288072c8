package storage

import (
	"context"
	"errors"

	"chatrelay/internal/domain"
)

// Sentinel errors for the storage layer.
// HTTP handlers should use errors.Is() to map these to appropriate HTTP status codes.
var (
	// ErrNotFound indicates the requested conversation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidID indicates the conversation id contains characters that
	// are not allowed in a backing file name.
	ErrInvalidID = errors.New("invalid conversation id")
)

// ConversationStore provides storage operations for chat conversations.
// A conversation is an ordered sequence of turns keyed by an opaque id.
type ConversationStore interface {
	// Load returns the persisted turn sequence for id. A missing or
	// unparsable conversation is treated as fresh: it returns an empty
	// sequence and no error.
	Load(ctx context.Context, id string) ([]domain.Turn, error)

	// Get returns the persisted turn sequence for id, or ErrNotFound if
	// the conversation does not exist.
	Get(ctx context.Context, id string) ([]domain.Turn, error)

	// Save overwrites the conversation with the full turn sequence.
	// Round-tripping through Save and Load must reproduce role and
	// content exactly, including non-ASCII text.
	Save(ctx context.Context, id string, turns []domain.Turn) error

	// List returns all persisted conversations ordered by most recently
	// modified first. Unreadable conversations are skipped.
	List(ctx context.Context) ([]domain.ConversationSummary, error)

	// Search performs a case-insensitive substring search over every
	// turn of every conversation. Conversations without matches are
	// omitted. Unreadable conversations are skipped.
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}
