package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Type: EventStateChanged, ProjectID: "p1"})

	select {
	case ev := <-ch:
		if ev.ProjectID != "p1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(Event{Type: EventStateChanged})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: EventLogUpdate, TaskID: "t"})
	}

	count := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				t.Fatal("channel unexpectedly closed")
			}
			count++
		default:
			if count == 0 {
				t.Fatal("expected some buffered events to survive")
			}
			if count > subscriberBuffer {
				t.Fatalf("expected buffered events capped at %d, got %d", subscriberBuffer, count)
			}
			return
		}
	}
}

func TestPublishLogChunk(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.PublishLogChunk("p1", "t1", []byte("hello"))

	ev := <-ch
	if ev.Type != EventLogUpdate || ev.ProjectID != "p1" || ev.TaskID != "t1" || ev.Payload != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
