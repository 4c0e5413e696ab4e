// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ActiveSearch tracks one in-flight search. The cancel flag is the only
// field mutated after creation.
type ActiveSearch struct {
	ID        string
	StartedAt time.Time

	cancelRequested atomic.Bool
}

// Cancel requests cooperative cancellation. Work already dispatched is
// allowed to finish.
func (s *ActiveSearch) Cancel() {
	s.cancelRequested.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (s *ActiveSearch) Cancelled() bool {
	return s.cancelRequested.Load()
}

// Registry tracks active searches so the cancellation endpoint can reach
// them. An entry lives from begin until the search's terminal event has been
// emitted.
type Registry struct {
	mu       sync.Mutex
	searches map[string]*ActiveSearch
}

func NewRegistry() *Registry {
	return &Registry{searches: make(map[string]*ActiveSearch)}
}

// Begin creates and registers a new search.
func (r *Registry) Begin() *ActiveSearch {
	search := &ActiveSearch{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	r.searches[search.ID] = search
	r.mu.Unlock()

	return search
}

// Cancel flags the search for cancellation. Unknown or already finished ids
// are a no-op, so the endpoint stays idempotent.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	search, ok := r.searches[id]
	r.mu.Unlock()

	if ok {
		search.Cancel()
	}
}

// Remove drops the search from the registry. Called exactly once, right
// after the terminal event is emitted.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.searches, id)
	r.mu.Unlock()
}

// Get returns the active search for id, if any.
func (r *Registry) Get(id string) (*ActiveSearch, bool) {
	r.mu.Lock()
	search, ok := r.searches[id]
	r.mu.Unlock()
	return search, ok
}

// Active returns the number of currently tracked searches.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.searches)
}
