package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	for _, prompt := range []string{"one", "two", "three"} {
		require.True(t, q.Push(trigger.NewEvent(trigger.TypeCron, prompt, nil)))
	}

	for _, want := range []string{"one", "two", "three"} {
		event, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, event.Prompt)
	}
}

func TestQueuePushNeverBlocks(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			q.Push(trigger.NewEvent(trigger.TypeDelegate, "x", nil))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pushes blocked despite no consumer")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	got := make(chan trigger.Event, 1)
	go func() {
		event, ok := q.Pop()
		require.True(t, ok)
		got <- event
	}()

	time.Sleep(50 * time.Millisecond)
	q.Push(trigger.NewEvent(trigger.TypeWebhook, "late", nil))

	select {
	case event := <-got:
		assert.Equal(t, "late", event.Prompt)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestQueueCloseDiscardsAndWakes(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	q.Push(trigger.NewEvent(trigger.TypeCron, "pending", nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Close()
	}()
	wg.Wait()

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.False(t, q.Push(trigger.NewEvent(trigger.TypeCron, "rejected", nil)))
	assert.Equal(t, 0, q.Len())

	q.Close() // idempotent
}
