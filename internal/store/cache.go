package store

import (
	"context"
	"sync"
	"time"
)

// Cached is a read-through entity cache in front of a Store.
//
// Only EventByID is served from memory. Every mutation path evicts, and in
// particular CommitSent MUST evict the whole id set: the bulk write bypasses
// the single-entity update path, so a cached copy saved afterwards would
// silently overwrite the new sent state.
type Cached struct {
	Store

	mu     sync.RWMutex
	events map[int64]Event
	max    int
}

// NewCached wraps s with an entity cache holding at most max events.
// max <= 0 selects a default of 1024.
func NewCached(s Store, max int) *Cached {
	if max <= 0 {
		max = 1024
	}
	return &Cached{Store: s, events: make(map[int64]Event), max: max}
}

func (c *Cached) EventByID(ctx context.Context, id int64) (*Event, error) {
	c.mu.RLock()
	ev, ok := c.events[id]
	c.mu.RUnlock()
	if ok {
		cp := ev
		return &cp, nil
	}

	fresh, err := c.Store.EventByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.events) >= c.max {
		// Cheap cap enforcement: drop an arbitrary entry.
		for k := range c.events {
			delete(c.events, k)
			break
		}
	}
	c.events[fresh.ID] = *fresh
	c.mu.Unlock()

	cp := *fresh
	return &cp, nil
}

func (c *Cached) UpdateEvent(ctx context.Context, ev *Event) error {
	err := c.Store.UpdateEvent(ctx, ev)
	c.evict(ev.ID)
	return err
}

func (c *Cached) DeleteEvent(ctx context.Context, id int64) error {
	err := c.Store.DeleteEvent(ctx, id)
	c.evict(id)
	return err
}

func (c *Cached) CommitSent(ctx context.Context, ids []int64, at time.Time) (int, error) {
	n, err := c.Store.CommitSent(ctx, ids, at)
	// Evict regardless of the reported count: rows that did not match the
	// conditional update may still differ from what we have cached.
	c.evict(ids...)
	return n, err
}

func (c *Cached) evict(ids ...int64) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.events, id)
	}
	c.mu.Unlock()
}

// Len reports the number of cached events. Test helper.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}
