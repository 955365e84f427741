package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanOut(t *testing.T) {
	b := NewBus()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(Event{Type: TypeTick, Data: "x"})

	assert.Equal(t, TypeTick, (<-a).Type)
	assert.Equal(t, TypeTick, (<-c).Type)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	for i := 0; i < cap(ch)+10; i++ {
		b.Publish(Event{Type: TypeTick})
	}
	assert.Len(t, ch, cap(ch))
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(Event{Type: TypeTick})
}
