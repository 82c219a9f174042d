package filestore

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with each provider ID in the file whenever the
// file is written or replaced by someone other than this Store. It blocks
// until ctx is done.
//
// The directory is watched rather than the file, since an atomic rename
// replaces the inode a file watch would be bound to.
func (s *Store) Watch(ctx context.Context, onChange func(providerID string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.notify(onChange)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("credential watcher error", slog.String("path", s.path), slog.Any("error", err))
		}
	}
}

func (s *Store) notify(onChange func(providerID string)) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		// Renamed away or mid-replace; the following Create reports it.
		return
	}

	s.mu.Lock()
	own := bytes.Equal(data, s.lastWrite)
	s.mu.Unlock()
	if own {
		return
	}

	providers, err := s.Providers()
	if err != nil {
		s.logger.Warn("credential file changed but is unreadable", slog.String("path", s.path), slog.Any("error", err))
		return
	}
	s.logger.Info("credential file changed", slog.String("path", s.path), slog.Int("providers", len(providers)))
	for _, p := range providers {
		onChange(p)
	}
}
