package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"chatrelay/internal/domain"
)

// MemoryStore is an in-memory implementation of ConversationStore used in
// tests and for ephemeral deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]domain.Turn
	seq   map[string]int64 // save order, for most-recent-first listing
	next  int64
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]domain.Turn),
		seq:   make(map[string]int64),
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Turn(nil), m.turns[id]...), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]domain.Turn(nil), t...), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[id] = append([]domain.Turn(nil), turns...)
	m.next++
	m.seq[id] = m.next
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]domain.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.turns))
	for id := range m.turns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.seq[ids[i]] > m.seq[ids[j]] })

	result := make([]domain.ConversationSummary, 0, len(ids))
	for _, id := range ids {
		result = append(result, domain.ConversationSummary{ID: id, Title: domain.Title(m.turns[id])})
	}
	return result, nil
}

func (m *MemoryStore) Search(_ context.Context, query string) ([]domain.SearchResult, error) {
	if query == "" {
		return []domain.SearchResult{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	ids := make([]string, 0, len(m.turns))
	for id := range m.turns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := []domain.SearchResult{}
	for _, id := range ids {
		turns := m.turns[id]
		var matches []domain.SearchMatch
		for _, t := range turns {
			start, end, ok := matchFold(t.Content, needle)
			if !ok {
				continue
			}
			matches = append(matches, domain.SearchMatch{
				Role:    t.Role,
				Snippet: snippet(t.Content, start, end-start),
			})
		}
		if len(matches) > 0 {
			results = append(results, domain.SearchResult{
				ID:      id,
				Title:   domain.Title(turns),
				Matches: matches,
			})
		}
	}
	return results, nil
}
