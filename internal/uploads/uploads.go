// Package uploads stores request-scoped attachment files. Every saved file
// lives only for the duration of one chat request and is removed
// unconditionally when the request finishes.
package uploads

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"chatrelay/internal/observability"
)

// SavedFile is one persisted transient attachment.
type SavedFile struct {
	Path        string // location on disk
	Filename    string // sanitized client-supplied name
	Placeholder string // human-readable marker line for the persisted turn
}

// Saver writes uploaded files into a scratch directory under
// collision-resistant names.
type Saver struct {
	dir    string
	logger observability.Logger
}

// NewSaver creates the scratch directory if needed.
func NewSaver(dir string, logger observability.Logger) (*Saver, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &Saver{dir: dir, logger: logger.WithComponent("uploads")}, nil
}

// Save copies one multipart file part to disk and returns its transient
// location together with the placeholder line for the conversation record.
func (s *Saver) Save(fh *multipart.FileHeader) (SavedFile, error) {
	name := sanitizeFilename(fh.Filename)
	if name == "" {
		name = "upload"
	}
	path := filepath.Join(s.dir, uuid.New().String()+"_"+name)

	src, err := fh.Open()
	if err != nil {
		return SavedFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path)
	if err != nil {
		return SavedFile{}, fmt.Errorf("create upload file: %w", err)
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return SavedFile{}, fmt.Errorf("write upload file: %w", err)
	}

	return SavedFile{
		Path:        path,
		Filename:    name,
		Placeholder: fmt.Sprintf("[图片: %s]", name),
	}, nil
}

// Cleanup removes every saved file, logging rather than failing on errors.
func (s *Saver) Cleanup(files []SavedFile) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil {
			s.logger.Warn("failed to remove transient upload", "path", f.Path, "error", err)
			continue
		}
		s.logger.Debug("removed transient upload", "path", f.Path)
	}
}

// sanitizeFilename strips path separators and any characters outside a
// conservative allowlist from a client-supplied file name.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "." || out == ".." {
		return ""
	}
	return out
}
