package stats

import (
	"context"
	"sync"
	"time"

	"github.com/hangwatch/backend/internal/session"
)

// Stats is the aggregate view over every lifecycle event observed since the
// process started.
type Stats struct {
	TotalDiscovered     int       `json:"totalDiscovered"`
	TotalEnded          int       `json:"totalEnded"`
	NamedDiscovered     int       `json:"namedDiscovered"`
	PublicDiscovered    int       `json:"publicDiscovered"`
	Updates             int       `json:"updates"`
	MaxConcurrentActive int       `json:"maxConcurrentActive"`
	CurrentActive       int       `json:"currentActive"`
	LastDiscovery       time.Time `json:"lastDiscovery,omitempty"`
	LastUpdated         time.Time `json:"lastUpdated,omitempty"`
}

// Tracker observes hangout lifecycle events and maintains aggregate stats.
// It receives events from the poller via a channel.
type Tracker struct {
	mu     sync.Mutex
	stats  Stats
	events chan session.Event
	now    func() time.Time

	// public holds IDs already counted as public, so a hangout that turns
	// public in a later update is counted once.
	public map[string]bool
}

// NewTracker returns a tracker and the send-only channel the poller delivers
// events on. The caller must run Run in a goroutine.
func NewTracker() (*Tracker, chan<- session.Event) {
	ch := make(chan session.Event, 256)
	t := &Tracker{
		events: ch,
		now:    time.Now,
		public: make(map[string]bool),
	}
	return t, ch
}

// Run processes events until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.events:
			t.processEvent(ev)
		}
	}
}

// Stats returns a copy of the current aggregate stats.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *Tracker) processEvent(ev session.Event) {
	if ev.Record == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := ev.Record
	now := t.now()

	switch ev.Type {
	case session.EventNew:
		t.stats.TotalDiscovered++
		t.stats.LastDiscovery = now
		if rec.Named {
			t.stats.NamedDiscovered++
		}
	case session.EventUpdate:
		t.stats.Updates++
	case session.EventEnded:
		t.stats.TotalEnded++
		delete(t.public, rec.ID)
	}

	if ev.Type != session.EventEnded && rec.Visibility == session.Public && !t.public[rec.ID] {
		t.public[rec.ID] = true
		t.stats.PublicDiscovered++
	}

	t.stats.CurrentActive = ev.ActiveCount
	if ev.ActiveCount > t.stats.MaxConcurrentActive {
		t.stats.MaxConcurrentActive = ev.ActiveCount
	}
	t.stats.LastUpdated = now
}
