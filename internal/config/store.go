package config

import "sync/atomic"

// Store holds the current configuration snapshot. Readers on any goroutine
// always see a complete snapshot; Swap replaces the pointer in one step.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store holding cfg, or the defaults when cfg is nil
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Load returns the current snapshot
func (s *Store) Load() *Config {
	return s.current.Load()
}

// Swap installs cfg and returns the snapshot it replaced
func (s *Store) Swap(cfg *Config) *Config {
	if cfg == nil {
		cfg = Default()
	}
	return s.current.Swap(cfg)
}
