// ABOUTME: Tests for the state-change event broadcaster
// ABOUTME: Covers topic isolation, slow subscribers, cancellation, and nil receivers

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_SubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), TopicStream)
	b.Publish(Event{Topic: TopicStream, Kind: KindMessageAdded, StreamID: "_all", Created: 42})

	select {
	case ev := <-ch:
		assert.Equal(t, KindMessageAdded, ev.Kind)
		assert.Equal(t, int64(42), ev.Created)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	streamCh, _ := b.Subscribe(t.Context(), TopicStream)
	presenceCh, _ := b.Subscribe(t.Context(), TopicPresence)

	b.Publish(Event{Topic: TopicPresence, Kind: KindPeerStatus, Status: "offline"})

	select {
	case ev := <-presenceCh:
		assert.Equal(t, "offline", ev.Status)
	case <-time.After(time.Second):
		t.Fatal("presence subscriber timed out")
	}

	select {
	case <-streamCh:
		t.Fatal("stream subscriber should not see presence events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), TopicStream)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*3; i++ {
			b.Publish(Event{Topic: TopicStream, Kind: KindMessageAdded, Created: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, TopicStream)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_NilIsNoop(t *testing.T) {
	var b *Broadcaster
	assert.NotPanics(t, func() {
		b.Publish(Event{Topic: TopicStream})
		b.Close()
	})
}

func TestBroadcaster_ConcurrentPublishAndClose(t *testing.T) {
	b := NewBroadcaster(nil)
	for i := 0; i < 10; i++ {
		_, _ = b.Subscribe(t.Context(), TopicPresence)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(Event{Topic: TopicPresence})
			}
		}()
	}
	b.Close()
	wg.Wait()
}
