// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with reload propagation.

package control

import (
	"slices"
	"sync"
)

// Store holds the live Config and notifies listeners when it changes.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
}

// NewStore initializes a store with cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to a copy of the configuration, validates it and, on
// success, stores it and calls every listener synchronously.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	next := s.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
	return nil
}

// OnReload registers a listener called after every successful Update.
func (s *Store) OnReload(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
