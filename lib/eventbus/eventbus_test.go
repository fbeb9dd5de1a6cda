package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b, err := New(Config{QueueSize: 4})
	require.NoError(t, err)
	defer b.Close()

	sub := b.Subscribe("terminal-output:abc")
	b.Publish("terminal-output:abc", "a")
	b.Publish("terminal-output:abc", "b")
	b.Publish("terminal-output:abc", "c")

	require.Equal(t, "a", (<-sub.C).Payload)
	require.Equal(t, "b", (<-sub.C).Payload)
	require.Equal(t, "c", (<-sub.C).Payload)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b, err := New(Config{QueueSize: 2})
	require.NoError(t, err)
	defer b.Close()

	sub := b.Subscribe("topic")
	b.Publish("topic", 1)
	b.Publish("topic", 2)
	b.Publish("topic", 3) // queue holds [1,2]; this drops 1, queue becomes [2,3]

	require.Equal(t, uint64(1), sub.Dropped())
	require.Equal(t, 2, (<-sub.C).Payload)
	require.Equal(t, 3, (<-sub.C).Payload)
}

func TestCancelStopsDelivery(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()

	sub := b.Subscribe("topic")
	sub.Cancel()
	sub.Cancel() // idempotent

	b.Publish("topic", "ignored")
	select {
	case _, ok := <-sub.C:
		require.False(t, ok, "channel should be closed after cancel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected closed channel to return immediately")
	}
}

func TestUnrelatedTopicsDoNotCrossDeliver(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()

	a := b.Subscribe("a")
	bSub := b.Subscribe("b")

	b.Publish("a", "only-for-a")

	require.Equal(t, "only-for-a", (<-a.C).Payload)
	select {
	case <-bSub.C:
		t.Fatal("subscriber on topic b should not receive topic a events")
	default:
	}
}
