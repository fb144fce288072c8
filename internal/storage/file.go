package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"chatrelay/internal/domain"
	"chatrelay/internal/observability"
)

// snippetWindow is the number of characters of context kept on each side
// of a search match.
const snippetWindow = 30

// FileStore persists each conversation as one <id>.json file containing a
// JSON array of turns, UTF-8 with two-space indentation. Writes are whole-file
// overwrites with last-writer-wins semantics; there is no per-id locking.
type FileStore struct {
	dir    string
	logger observability.Logger
}

// NewFileStore creates the conversations directory if needed and returns a
// store backed by it. If logger is nil, a default logger is used.
func NewFileStore(dir string, logger observability.Logger) (*FileStore, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversations dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.WithComponent("storage")}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

// validID reports whether id is safe to use as a file name component.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func (s *FileStore) path(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Load(ctx context.Context, id string) ([]domain.Turn, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Turn{}, nil
		}
		s.logger.WarnContext(ctx, "conversation unreadable, treating as fresh", "id", id, "error", err)
		return []domain.Turn{}, nil
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		s.logger.WarnContext(ctx, "conversation unparsable, treating as fresh", "id", id, "error", err)
		return []domain.Turn{}, nil
	}
	return turns, nil
}

func (s *FileStore) Get(ctx context.Context, id string) ([]domain.Turn, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse conversation: %w", err)
	}
	return turns, nil
}

func (s *FileStore) Save(ctx context.Context, id string, turns []domain.Turn) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []domain.Turn{}
	}

	// Keep the file human-readable: indented, and non-ASCII text written
	// as-is rather than \u escapes.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(turns); err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.ConversationSummary{}, nil
		}
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	type fileEntry struct {
		id    string
		mtime int64
	}
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unstatable conversation file", "file", name, "error", err)
			continue
		}
		files = append(files, fileEntry{
			id:    strings.TrimSuffix(name, ".json"),
			mtime: info.ModTime().UnixNano(),
		})
	}

	// Most recently modified first.
	sort.Slice(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })

	result := make([]domain.ConversationSummary, 0, len(files))
	for _, f := range files {
		turns, err := s.Get(ctx, f.id)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable conversation", "id", f.id, "error", err)
			continue
		}
		result = append(result, domain.ConversationSummary{ID: f.id, Title: domain.Title(turns)})
	}
	return result, nil
}

func (s *FileStore) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	if query == "" {
		return []domain.SearchResult{}, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.SearchResult{}, nil
		}
		return nil, fmt.Errorf("search conversations: %w", err)
	}

	needle := strings.ToLower(query)
	results := []domain.SearchResult{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		turns, err := s.Get(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable conversation in search", "id", id, "error", err)
			continue
		}

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

// matchFold reports the byte range in content of the first case-insensitive
// occurrence of needle, which must already be lowercased. Lowering can change
// rune widths (e.g. "Ⱥ" is two bytes, "ⱥ" three), so an index found in a
// lowered copy is mapped back to content through a per-byte offset table
// rather than reused directly.
func matchFold(content, needle string) (start, end int, ok bool) {
	var lowered strings.Builder
	lowered.Grow(len(content))
	offsets := make([]int, 0, len(content)+1)
	for i, r := range content {
		lr := unicode.ToLower(r)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			offsets = append(offsets, i)
		}
		lowered.WriteRune(lr)
	}
	offsets = append(offsets, len(content))

	idx := strings.Index(lowered.String(), needle)
	if idx < 0 {
		return 0, 0, false
	}
	return offsets[idx], offsets[idx+len(needle)], true
}

// snippet extracts up to snippetWindow characters of context on each side of
// the match at content[idx:idx+matchLen], clipped to the content bounds, and
// wraps the result in ellipsis markers.
func snippet(content string, idx, matchLen int) string {
	start := idx
	for i := 0; i < snippetWindow && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		if size == 0 {
			break
		}
		start -= size
	}
	end := idx + matchLen
	if end > len(content) {
		end = len(content)
	}
	for i := 0; i < snippetWindow && end < len(content); i++ {
		_, size := utf8.DecodeRuneInString(content[end:])
		if size == 0 {
			break
		}
		end += size
	}
	return "..." + content[start:end] + "..."
}
