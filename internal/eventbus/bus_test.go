package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "cycle.finished", Data: 42})

	select {
	case e := <-ch:
		assert.Equal(t, "cycle.finished", e.Type)
		assert.Equal(t, 42, e.Data)
		assert.False(t, e.Time.IsZero(), "publish stamps the time when unset")
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	// Nobody drains; the second publish is dropped, not stuck.
	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})

	e := <-ch
	assert.Equal(t, "first", e.Type)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // idempotent

	_, open := <-ch
	require.False(t, open, "unsubscribe closes the channel")

	// Publishing after unsubscribe reaches nobody and must not panic.
	b.Publish(Event{Type: "late"})
}

func TestFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: "both"})
	assert.Equal(t, "both", (<-a).Type)
	assert.Equal(t, "both", (<-c).Type)
}
