// Package filestore persists OAuth credentials in a single JSON file.
//
// Writes are atomic (temp file + rename) with owner-only permissions, so
// another process sharing the file never observes a partial write. Watch
// reports external replacements of the file.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rashee1997/orchestrator-sub006/credential"
)

// ErrInvalidFile indicates the credentials file could not be decoded.
var ErrInvalidFile = errors.New("invalid credentials file")

// file is the on-disk layout.
type file struct {
	Providers map[string]credential.Credential `json:"providers"`
}

// Store is a credential.Persistence backed by a JSON file.
// Safe for concurrent use within one process.
type Store struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	lastWrite []byte
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by Watch.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a store for path. The file is created on first Save.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load implements credential.Persistence.
func (s *Store) Load(ctx context.Context, providerID string) (credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return credential.Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return credential.Credential{}, err
	}
	c, ok := f.Providers[providerID]
	if !ok {
		return credential.Credential{}, fmt.Errorf("%w: %s in %s", credential.ErrNotFound, providerID, s.path)
	}
	return c, nil
}

// Save implements credential.Persistence. Other providers' entries are
// preserved.
func (s *Store) Save(ctx context.Context, providerID string, cred credential.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	f.Providers[providerID] = cred

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.lastWrite = data
	return nil
}

// Providers lists the provider IDs stored in the file, sorted.
func (s *Store) Providers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.Providers))
	for p := range f.Providers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// read decodes the file. A missing file is an empty store.
func (s *Store) read() (file, error) {
	f := file{Providers: make(map[string]credential.Credential)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, fmt.Errorf("read credentials: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if f.Providers == nil {
		f.Providers = make(map[string]credential.Credential)
	}
	return f, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // no-op after a successful rename
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
