package store

import (
	"sync"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/run"
)

// Entry is a report together with the time it was stored.
type Entry struct {
	Report    *run.Report
	UpdatedAt time.Time
}

// Store is a thread-safe holder for the most recent run report. The previous
// report stays visible while a new run is in progress; Put replaces it when
// that run ends, whether it completed or was cancelled.
type Store struct {
	mu      sync.RWMutex
	last    *Entry
	running map[string]time.Time
	now     func() time.Time // injectable for deterministic tests
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		running: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Begin records that a run has started. The previous report is kept
// visible until the new run stores its own.
func (s *Store) Begin(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[runID] = s.now()
}

// Put stores rep as the last report and marks its run as finished.
// Callers must not modify rep after calling Put.
func (s *Store) Put(rep *run.Report) {
	if rep == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, rep.RunID)
	s.last = &Entry{Report: rep, UpdatedAt: s.now()}
}

// Last returns the most recent report and whether one exists.
func (s *Store) Last() (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, false
	}
	e := *s.last
	return &e, true
}

// Running returns the number of runs in progress.
func (s *Store) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.running)
}
