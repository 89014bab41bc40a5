package model

import "sync"

// Collection is the in-memory envelope store shared between the UI
// thread and background workers (spec.md §5). Mutation goes through
// Upsert/SetFlags under lock; readers take a Snapshot that is valid
// until the next commit point — exactly the append-or-update-then-
// snapshot contract spec.md describes.
type Collection struct {
	mu    sync.RWMutex
	byID  map[EnvelopeHash]*Envelope
	order []EnvelopeHash // insertion order, stable for deterministic iteration
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{byID: make(map[EnvelopeHash]*Envelope)}
}

// Upsert inserts e, or replaces the existing entry with the same hash.
// Returns true if this was a new insertion.
func (c *Collection) Upsert(e *Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.byID[e.Hash]
	c.byID[e.Hash] = e
	if !existed {
		c.order = append(c.order, e.Hash)
	}
	return !existed
}

// Remove deletes the envelope with the given hash, if present.
func (c *Collection) Remove(h EnvelopeHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[h]; !ok {
		return
	}
	delete(c.byID, h)
	for i, oh := range c.order {
		if oh == h {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Rename moves the entry at oldHash to newHash, preserving insertion
// position, for a backend EventRename whose hash changed.
func (c *Collection) Rename(oldHash, newHash EnvelopeHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[oldHash]
	if !ok {
		return
	}
	delete(c.byID, oldHash)
	e.Hash = newHash
	c.byID[newHash] = e
	for i, oh := range c.order {
		if oh == oldHash {
			c.order[i] = newHash
			break
		}
	}
}

// Get returns the envelope for hash, if present. The returned pointer is
// owned by the collection; callers that need a stable copy should use
// Envelope.Clone.
func (c *Collection) Get(h EnvelopeHash) (*Envelope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[h]
	return e, ok
}

// SetFlags mutates a single envelope's flags in place, toggling or
// replacing depending on toggle.
func (c *Collection) SetFlags(h EnvelopeHash, flags Flag, toggle bool) (Flag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[h]
	if !ok {
		return 0, false
	}
	if toggle {
		e.Flags ^= flags
	} else {
		e.Flags = flags
	}
	return e.Flags, true
}

// Snapshot returns a stable-ordered slice of envelope pointers valid
// until the next Upsert/Remove/Rename commit.
func (c *Collection) Snapshot() []*Envelope {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Envelope, 0, len(c.order))
	for _, h := range c.order {
		if e, ok := c.byID[h]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
