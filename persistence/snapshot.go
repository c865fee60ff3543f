package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SnapshotOption configures a Snapshotter.
type SnapshotOption func(*Snapshotter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SnapshotOption {
	return func(s *Snapshotter) {
		s.logger = logger
	}
}

// Snapshotter writes the exports of registered stores to a Backend.
type Snapshotter struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	sources map[string]Exporter
}

// NewSnapshotter creates a Snapshotter writing to backend.
func NewSnapshotter(backend Backend, opts ...SnapshotOption) *Snapshotter {
	s := &Snapshotter{
		backend: backend,
		sources: make(map[string]Exporter),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Add registers exp under bucket name, replacing any previous source.
func (s *Snapshotter) Add(name string, exp Exporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = exp
}

// Buckets returns the registered bucket names in sorted order.
func (s *Snapshotter) Buckets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flush writes every bucket once. Documents equal to the stored value are
// skipped, and stored keys missing from the export are deleted. A failing
// bucket does not stop the others; all errors are joined.
func (s *Snapshotter) Flush(ctx context.Context) error {
	var errs []error
	for _, name := range s.Buckets() {
		s.mu.Lock()
		exp := s.sources[name]
		s.mu.Unlock()

		if err := s.flushBucket(ctx, name, exp); err != nil {
			errs = append(errs, fmt.Errorf("bucket %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Snapshotter) flushBucket(ctx context.Context, name string, exp Exporter) error {
	docs, err := exp.Export()
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stored, err := s.backend.List(ctx, name)
	if err != nil {
		return err
	}

	written, deleted := 0, 0
	for key, doc := range docs {
		if prev, ok := stored[key]; ok && bytes.Equal(prev, doc) {
			continue
		}
		if err := s.backend.Put(ctx, name, key, doc); err != nil {
			return err
		}
		written++
	}
	for key := range stored {
		if _, ok := docs[key]; ok {
			continue
		}
		if err := s.backend.Delete(ctx, name, key); err != nil {
			return err
		}
		deleted++
	}

	if written > 0 || deleted > 0 {
		s.logger.Debug("flushed snapshot",
			"bucket", name,
			"written", written,
			"deleted", deleted,
		)
	}
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// so the backend holds the final state. Flush errors are logged.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("final snapshot failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("snapshot failed", "error", err)
			}
		}
	}
}
