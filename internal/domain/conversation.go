package domain

import "strings"

// Turn roles. A conversation only ever contains user and assistant turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn represents a single message in a conversation.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SearchMatch is one matched turn within a conversation.
type SearchMatch struct {
	Role    string `json:"role"`
	Snippet string `json:"snippet"`
}

// SearchResult groups the matches found in a single conversation.
type SearchResult struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Matches []SearchMatch `json:"matches"`
}

// ChatReply is the synchronous-mode response body for a chat request.
type ChatReply struct {
	Response               string `json:"response"`
	ConversationID         string `json:"conversation_id"`
	NewConversationCreated bool   `json:"new_conversation_created,omitempty"`
}

// FallbackTitle is used for conversations without a user turn.
const FallbackTitle = "New Chat"

// titleMax bounds a derived title; longer first lines are cut to
// titleKeep characters plus an ellipsis marker.
const (
	titleMax  = 50
	titleKeep = 47
)

// Title derives a listing title from the first user turn's first line.
// Titles longer than 50 characters are truncated to 47 plus "...".
func Title(turns []Turn) string {
	for _, t := range turns {
		if t.Role != RoleUser || t.Content == "" {
			continue
		}
		firstLine := t.Content
		if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
			firstLine = firstLine[:i]
		}
		if r := []rune(firstLine); len(r) > titleMax {
			return string(r[:titleKeep]) + "..."
		}
		return firstLine
	}
	return FallbackTitle
}
