// Package surface owns the surface store: backing HTML content on disk plus
// the live bridge to whatever is currently rendering a surface.
package surface

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ContentSuffix is the file suffix that marks a file as surface backing content.
const ContentSuffix = ".html"

var (
	// ErrNotFound is returned when a surface has no backing content.
	ErrNotFound = errors.New("surface not found")
	// ErrInvalidName is returned for names that cannot be used as file names.
	ErrInvalidName = errors.New("invalid surface name")
)

// Surface names become file names, so they must not carry path structure.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ -]*$`)

// ValidName reports whether name is usable as a surface name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// Store persists surface backing content as <name>.html files in a single
// directory. The directory is shared with unrelated upload endpoints, so
// every read path filters strictly by suffix.
//
// Writes to the same name are serialized through a per-name lock.
type Store struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*fileLock
}

// NewStore creates a Store rooted at dir. The directory is created lazily on
// first write.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: make(map[string]*fileLock),
	}
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+ContentSuffix)
}

// Save persists content under name, replacing any previous content.
func (s *Store) Save(ctx context.Context, name, content string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create surface directory: %w", err)
	}

	filePath := s.path(name)
	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	// Write to temp file first, then rename (atomic operation).
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Content returns the backing content for name, or ErrNotFound.
func (s *Store) Content(ctx context.Context, name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return string(data), nil
}

// Exists reports whether name has backing content on disk. Existence is
// determined by file presence, never by a cached flag.
func (s *Store) Exists(name string) bool {
	if !ValidName(name) {
		return false
	}
	_, err := os.Stat(s.path(name))
	return err == nil
}

// List returns the names of all surfaces with backing content, sorted.
// Foreign files in the directory (uploads, temp files, locks) are skipped.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read surface directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fname := entry.Name()
		if !strings.HasSuffix(fname, ContentSuffix) {
			continue
		}
		name := strings.TrimSuffix(fname, ContentSuffix)
		if ValidName(name) {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// getLock returns the write lock for a file path.
func (s *Store) getLock(filePath string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = newFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
