package config

import (
	"reflect"
	"sync"
	"time"

	"github.com/hangwatch/backend/internal/session"
)

// Key names a setting whose value has type T.
type Key[T any] struct {
	name string
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// Settings that can change while the daemon runs.
var (
	KeyPollInterval = NewKey[time.Duration]("poll.interval")
	KeySearchQuery  = NewKey[string]("search.query")
	KeySearchLimit  = NewKey[int]("search.limit")
	KeyPrivacy      = NewKey[session.PrivacyFilter]("privacy")
)

type subscriber struct {
	id int
	fn func(any)
}

// Settings holds live values for typed keys and notifies subscribers when a
// value changes. Callbacks run synchronously on the goroutine calling Set,
// outside the internal lock.
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[string][]subscriber
	nextID int
}

func NewSettings() *Settings {
	return &Settings{
		values: make(map[string]any),
		subs:   make(map[string][]subscriber),
	}
}

// NewSettingsFrom returns Settings seeded with the reloadable values of cfg.
func NewSettingsFrom(cfg *Config) *Settings {
	s := NewSettings()
	s.Apply(cfg)
	return s
}

// Get returns the current value for k, or the zero value and false when it
// was never set.
func Get[T any](s *Settings, k Key[T]) (T, bool) {
	s.mu.RLock()
	v, ok := s.values[k.name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Set stores v for k and notifies subscribers if the value changed.
func Set[T any](s *Settings, k Key[T], v T) {
	s.mu.Lock()
	old, had := s.values[k.name]
	if had && reflect.DeepEqual(old, v) {
		s.mu.Unlock()
		return
	}
	s.values[k.name] = v
	subs := append([]subscriber(nil), s.subs[k.name]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}
}

// Subscribe registers fn for changes to k and returns a function that
// removes the subscription.
func Subscribe[T any](s *Settings, k Key[T], fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[k.name] = append(s.subs[k.name], subscriber{
		id: id,
		fn: func(v any) { fn(v.(T)) },
	})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[k.name]
		for i, sub := range subs {
			if sub.id == id {
				s.subs[k.name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Apply sets every reloadable key from cfg. Server, notify and log sections
// need a restart and are ignored.
func (s *Settings) Apply(cfg *Config) {
	Set(s, KeyPollInterval, cfg.Poll.Interval)
	Set(s, KeySearchQuery, cfg.Search.Query)
	Set(s, KeySearchLimit, cfg.Search.Limit)
	Set(s, KeyPrivacy, cfg.Privacy)
}
