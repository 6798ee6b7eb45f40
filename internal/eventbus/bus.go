// Package eventbus is a small in-memory fanout bus. The dispatch engine
// publishes cycle and manual-trigger outcomes on it so observers (status
// reporting, future integrations) attach without the engine knowing them.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one published signal.
//
// Contract:
//   - Publish never blocks; a slow subscriber loses events, not the
//     publisher.
//   - Data must be a small immutable value; subscribers share it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered channel and returns it together with an
	// unsubscribe func. Unsubscribe closes the channel and is safe to call
	// more than once.
	Subscribe(buffer int) (<-chan Event, func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's goroutine.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Snapshot under the read lock, send outside it.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close the channel between the
		// snapshot and the send; the recover absorbs that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
