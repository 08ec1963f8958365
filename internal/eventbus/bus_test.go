package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestBacklogReplayToLateSubscriber(t *testing.T) {
	b := New(nil, 500)

	// No subscribers yet: these go to backlog.
	b.PublishContent("c1", TypeAnswer, "hello", nil)
	b.PublishContent("c1", TypeAnswer, " world", nil)

	q := b.Subscribe()
	defer b.Unsubscribe(q)

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case e := <-q.C():
			got = append(got, e.Content)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for backlog replay event %d", i)
		}
	}
	if got[0] != "hello" || got[1] != " world" {
		t.Fatalf("backlog replay out of order: %v", got)
	}
}

func TestLiveSubscriberReceivesPublishedEvents(t *testing.T) {
	b := New(nil, 500)
	q := b.Subscribe()
	defer b.Unsubscribe(q)

	b.PublishState("c1", "responding")

	select {
	case e := <-q.C():
		if e.Type != TypeChatState || e.Content != "responding" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live event")
	}
}

func TestFullQueueEvictsSubscriberWithoutBlockingProducer(t *testing.T) {
	b := New(nil, 500)
	q := b.Subscribe()

	// Flood past the queue's bounded depth; PublishContent must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueDepth+50; i++ {
			b.PublishContent("c1", TypeAnswer, "x", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer blocked on a full subscriber queue")
	}

	b.mu.Lock()
	_, stillSubscribed := b.subscribers[q]
	b.mu.Unlock()
	if stillSubscribed {
		t.Fatalf("expected subscriber to be evicted once its queue filled")
	}
}

func TestWaitForQueueDrainBlocksUntilIdle(t *testing.T) {
	b := New(nil, 500)
	b.markPending("c1", 1)

	drained := make(chan struct{})
	go func() {
		b.WaitForQueueDrain(context.Background(), "c1", time.Second, 10*time.Millisecond)
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatalf("drain should not complete while queue has pending events")
	case <-time.After(30 * time.Millisecond):
	}

	b.markPending("c1", -1)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatalf("drain did not complete after queue emptied")
	}
}
