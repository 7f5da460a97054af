package session

import (
	"sync"
	"time"
)

// Signal is the published activity summary of the last completed pass.
type Signal struct {
	Count         int       `json:"count"`
	IsNewActivity bool      `json:"isNewActivity"`
	At            time.Time `json:"at"`
}

// Store is the read side of the reconciler. The poller publishes a full
// copy after every completed pass, so readers observe either the previous
// or the next state and never a partially reconciled list.
type Store struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]int
	signal  Signal
}

func NewStore() *Store {
	return &Store{
		byID: make(map[string]int),
	}
}

// Publish replaces the published view. The store keeps its own copies.
func (s *Store) Publish(records []*Record, sig Signal) {
	s.PublishAndNotify(records, sig, nil)
}

// PublishAndNotify publishes and runs notify while still holding the write
// lock, so HTTP readers cannot observe the new view before WebSocket clients
// have had their messages queued.
func (s *Store) PublishAndNotify(records []*Record, sig Signal, notify func()) {
	copies := make([]*Record, len(records))
	byID := make(map[string]int, len(records))
	for i, rec := range records {
		copies[i] = rec.Clone()
		byID[rec.ID] = i
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = copies
	s.byID = byID
	s.signal = sig
	if notify != nil {
		notify()
	}
}

func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.records[i].Clone(), true
}

// GetAll returns copies of the published records in insertion order.
func (s *Store) GetAll() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Record, len(s.records))
	for i, rec := range s.records {
		result[i] = rec.Clone()
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Signal() Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signal
}
