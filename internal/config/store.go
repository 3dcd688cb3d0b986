package config

import (
	"sync"

	"github.com/banshee-data/gridctl/internal/monitoring"
)

// Store holds the current configuration and a monotonic epoch that advances on
// every accepted update. The control loop compares epochs to detect changes.
type Store struct {
	// saveMu orders file writes by epoch; mu only guards the swap so readers
	// never wait on the disk.
	saveMu  sync.Mutex
	mu      sync.RWMutex
	cfg     *Config
	epoch   uint64
	path    string
	changed chan struct{}
}

// NewStore returns a store holding cfg at epoch 1. If path is not empty every
// accepted update is also written there.
func NewStore(cfg *Config, path string) *Store {
	return &Store{
		cfg:     cfg.Clone(),
		epoch:   1,
		path:    path,
		changed: make(chan struct{}, 1),
	}
}

// Snapshot returns the current configuration and its epoch. The returned
// Config must not be modified.
func (s *Store) Snapshot() (*Config, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.epoch
}

// Epoch returns the current epoch.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Changed is signalled after each accepted update. Notifications coalesce.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// Update normalizes and validates cfg and makes it current. A rejected
// configuration leaves the store untouched. Persisting to disk is best effort
// and does not undo an accepted update.
func (s *Store) Update(cfg *Config) (uint64, error) {
	next := cfg.Clone()
	next.Normalize()
	if err := Validate(next); err != nil {
		return 0, err
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	s.cfg = next
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			monitoring.Logf("[config] failed to save %s: %v", s.path, err)
		}
	}

	select {
	case s.changed <- struct{}{}:
	default:
	}
	return epoch, nil
}
