// Package snapshot holds the latest published org chart.
//
// A Store keeps one immutable Snapshot in memory and hands it to readers
// without copying. Publish swaps the whole snapshot at once, so a reader sees
// either the previous tree or the new one. Durable copies go through a
// Persister, normally a FileStore.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// Errors for snapshot operations.
var (
	ErrNotFound  = errors.New("snapshot not found")
	ErrNilRoot   = errors.New("snapshot root is nil")
	ErrCorrupted = errors.New("snapshot file corrupted")
)

// Snapshot is a published tree. Treat Root as read-only.
type Snapshot struct {
	Root      *orgchart.Node
	BuiltAt   time.Time
	Employees int
}

// Age returns how long ago the snapshot was built.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.BuiltAt)
}

// Persister writes and reads the durable copy of a tree.
type Persister interface {
	Save(ctx context.Context, root *orgchart.Node) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Store is the in-memory holder of the current snapshot.
type Store struct {
	persister Persister

	mu      sync.RWMutex
	current *Snapshot
}

// NewStore creates an empty store. persister may be nil.
func NewStore(persister Persister) *Store {
	return &Store{persister: persister}
}

// Current returns the latest snapshot, or false before the first publish.
func (s *Store) Current() (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Publish replaces the current snapshot and then persists it. The in-memory
// snapshot is updated even when persisting fails; the error is returned for
// the caller to report.
func (s *Store) Publish(ctx context.Context, root *orgchart.Node, builtAt time.Time) (*Snapshot, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	snap := &Snapshot{
		Root:      root,
		BuiltAt:   builtAt,
		Employees: orgchart.Count(root),
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	if s.persister == nil {
		return snap, nil
	}
	if err := s.persister.Save(ctx, root); err != nil {
		return snap, fmt.Errorf("persisting snapshot: %w", err)
	}
	return snap, nil
}

// Restore seeds the store from the persister. It returns ErrNotFound when
// there is nothing to restore and leaves the store untouched on any error.
func (s *Store) Restore(ctx context.Context) (*Snapshot, error) {
	if s.persister == nil {
		return nil, ErrNotFound
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A refresh that finished first wins over the older file.
	if s.current != nil && s.current.BuiltAt.After(snap.BuiltAt) {
		return s.current, nil
	}
	s.current = snap
	return snap, nil
}
