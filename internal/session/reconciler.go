package session

import (
	"slices"
	"time"
)

// Result summarises one reconciliation pass.
type Result struct {
	Added     []string // appended to the list during this pass
	New       []string // subset of Added never seen before, not even before a reset
	Updated   []string // changed in place
	Unchanged int      // re-sent with identical content
	Removed   []string // reported inactive, or not rediscovered after a reset
	Skipped   int      // results without an identifier
	Events    []Event
}

// HasNew reports whether the pass discovered at least one genuinely new hangout.
func (r Result) HasNew() bool {
	return len(r.New) > 0
}

// Changed reports whether the pass mutated the authoritative list.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Reconciler owns the authoritative session list and its ResultCache.
// It is single-writer state: every method must be called from the same
// goroutine (the poller loop). Readers use the published Store instead.
type Reconciler struct {
	list  []*Record
	cache *ResultCache

	// previous holds the records known before the last Reset until the next
	// pass consumes it, so rediscovered hangouts are not reported as new.
	previous map[string]*Record

	now func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		cache: NewResultCache(),
		now:   time.Now,
	}
}

// Reconcile merges a raw search batch into the authoritative list. Active
// results are applied first; removals run in a second pass so they cannot
// disturb positions used by the first.
func (r *Reconciler) Reconcile(batch []RawResult) Result {
	now := r.now()
	var res Result
	var events []Event

	for _, raw := range batch {
		if !raw.Active {
			continue
		}
		if raw.ID == "" {
			res.Skipped++
			continue
		}

		if e, ok := r.cache.Lookup(raw.ID); ok {
			vis := e.Visibility.Merge(raw.Visibility)
			rec := r.list[e.Index]
			if rec.fingerprint == fingerprint(raw, vis) {
				res.Unchanged++
				continue
			}
			rec.fill(raw, vis, now)
			r.cache.Put(raw.ID, CacheEntry{Index: e.Index, Visibility: vis})
			res.Updated = append(res.Updated, raw.ID)
			events = append(events, Event{Type: EventUpdate, Record: rec.Clone()})
			continue
		}

		vis := raw.Visibility
		prev, known := r.previous[raw.ID]
		if known {
			vis = prev.Visibility.Merge(vis)
		}
		rec := &Record{}
		rec.fill(raw, vis, now)
		r.list = append(r.list, rec)
		r.cache.Put(raw.ID, CacheEntry{Index: len(r.list) - 1, Visibility: vis})
		res.Added = append(res.Added, raw.ID)

		switch {
		case !known:
			res.New = append(res.New, raw.ID)
			events = append(events, Event{Type: EventNew, Record: rec.Clone()})
		case prev.fingerprint != rec.fingerprint:
			events = append(events, Event{Type: EventUpdate, Record: rec.Clone()})
		}
	}

	for _, raw := range batch {
		if raw.Active {
			continue
		}
		if raw.ID == "" {
			res.Skipped++
			continue
		}
		if rec, ok := r.remove(raw.ID); ok {
			delete(r.previous, raw.ID)
			rec.Active = false
			res.Removed = append(res.Removed, raw.ID)
			events = append(events, Event{Type: EventEnded, Record: rec})
		}
	}

	if r.previous != nil {
		for id, rec := range r.previous {
			if _, ok := r.cache.Lookup(id); ok {
				continue
			}
			ended := rec.Clone()
			ended.Active = false
			res.Removed = append(res.Removed, id)
			events = append(events, Event{Type: EventEnded, Record: ended})
		}
		r.previous = nil
	}

	for i := range events {
		events[i].ActiveCount = len(r.list)
	}
	res.Events = events
	return res
}

// remove splices the record for id out of the list and rebuilds the cached
// positions of every record that followed it.
func (r *Reconciler) remove(id string) (*Record, bool) {
	e, ok := r.cache.Lookup(id)
	if !ok {
		return nil, false
	}
	idx := e.Index
	if idx < 0 || idx >= len(r.list) || r.list[idx].ID != id {
		idx = slices.IndexFunc(r.list, func(rec *Record) bool { return rec.ID == id })
		if idx < 0 {
			r.cache.Delete(id)
			return nil, false
		}
	}
	rec := r.list[idx]
	r.list = slices.Delete(r.list, idx, idx+1)
	r.cache.Delete(id)
	r.cache.shiftFrom(idx)
	return rec, true
}

// Reset clears the list and the cache. The cleared records are remembered
// until the next pass so it can tell rediscovered hangouts from new ones and
// report the ones that did not come back as ended.
func (r *Reconciler) Reset() {
	if r.previous == nil {
		r.previous = make(map[string]*Record, len(r.list))
	}
	for _, rec := range r.list {
		r.previous[rec.ID] = rec
	}
	r.list = nil
	r.cache.Reset()
}

// Validate checks the cache invariant against the list.
func (r *Reconciler) Validate() error {
	return r.cache.Validate(r.list)
}

// Sessions returns copies of the records in insertion order.
func (r *Reconciler) Sessions() []*Record {
	out := make([]*Record, len(r.list))
	for i, rec := range r.list {
		out[i] = rec.Clone()
	}
	return out
}

func (r *Reconciler) Count() int {
	return len(r.list)
}

func (r *Reconciler) Get(id string) (*Record, bool) {
	e, ok := r.cache.Lookup(id)
	if !ok || e.Index >= len(r.list) {
		return nil, false
	}
	return r.list[e.Index].Clone(), true
}

// Visibility returns the cached classification for id.
func (r *Reconciler) Visibility(id string) (Visibility, bool) {
	e, ok := r.cache.Lookup(id)
	return e.Visibility, ok
}
