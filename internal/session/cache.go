package session

import (
	"github.com/cockroachdb/errors"
)

// ErrCacheInconsistent is returned by Validate when the result cache no
// longer matches the authoritative list.
var ErrCacheInconsistent = errors.New("result cache inconsistent with session list")

// CacheEntry locates a record in the authoritative list.
type CacheEntry struct {
	Index      int
	Visibility Visibility
}

// ResultCache maps a session ID to its position in the authoritative list
// and its visibility classification. It is not safe for concurrent use; the
// Reconciler that owns it is the only writer.
type ResultCache struct {
	entries map[string]CacheEntry
}

func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]CacheEntry)}
}

func (c *ResultCache) Lookup(id string) (CacheEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

func (c *ResultCache) Put(id string, e CacheEntry) {
	c.entries[id] = e
}

func (c *ResultCache) Delete(id string) {
	delete(c.entries, id)
}

func (c *ResultCache) Len() int {
	return len(c.entries)
}

func (c *ResultCache) Reset() {
	c.entries = make(map[string]CacheEntry)
}

// IDs returns the cached identifiers in no particular order.
func (c *ResultCache) IDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// shiftFrom decrements the index of every entry positioned after removed.
// Called after the record at removed has been spliced out of the list.
func (c *ResultCache) shiftFrom(removed int) {
	for id, e := range c.entries {
		if e.Index > removed {
			e.Index--
			c.entries[id] = e
		}
	}
}

// Validate checks that every record in list has exactly one entry and that
// every entry points at the record carrying its key.
func (c *ResultCache) Validate(list []*Record) error {
	if len(c.entries) != len(list) {
		return errors.Wrapf(ErrCacheInconsistent, "%d cache entries for %d records", len(c.entries), len(list))
	}
	for id, e := range c.entries {
		if e.Index < 0 || e.Index >= len(list) {
			return errors.Wrapf(ErrCacheInconsistent, "entry %q index %d out of range", id, e.Index)
		}
		if got := list[e.Index].ID; got != id {
			return errors.Wrapf(ErrCacheInconsistent, "entry %q points at record %q", id, got)
		}
	}
	return nil
}
