package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicServerLog)
	defer sub.Close()

	bus.Publish(context.Background(), Envelope{
		Topic:   TopicServerLog,
		Source:  "supervisor",
		Payload: ServerLogEvent{Server: "alpha", Stream: StreamStdout, Line: "ready"},
	})

	select {
	case env := <-sub.C():
		payload, ok := env.Payload.(ServerLogEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", env.Payload)
		}
		if payload.Server != "alpha" || payload.Line != "ready" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if env.Timestamp.IsZero() {
			t.Fatal("expected publish to stamp the envelope")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishIgnoresOtherTopics(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicServerState)
	defer sub.Close()

	bus.Publish(context.Background(), Envelope{Topic: TopicServerLog, Payload: "noise"})

	select {
	case env := <-sub.C():
		t.Fatalf("unexpected delivery: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicServerLog, WithSubscriptionBuffer(2), WithSubscriptionName("slow"))
	defer sub.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), Envelope{
			Topic:   TopicServerLog,
			Payload: ServerLogEvent{Server: "alpha", Line: fmt.Sprintf("line-%d", i)},
		})
	}

	if got := sub.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}

	// The two newest events must survive.
	first := (<-sub.C()).Payload.(ServerLogEvent)
	second := (<-sub.C()).Payload.(ServerLogEvent)
	if first.Line != "line-3" || second.Line != "line-4" {
		t.Fatalf("surviving lines = %q, %q; want line-3, line-4", first.Line, second.Line)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := bus.Subscribe(TopicServerState)
	sub.Close()
	sub.Close() // idempotent

	bus.Publish(context.Background(), Envelope{Topic: TopicServerState, Payload: "late"})

	if _, open := <-sub.C(); open {
		t.Fatal("expected channel to be closed")
	}
}

func TestContextCancellationClosesSubscription(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(TopicServerLog, WithContext(ctx))
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-sub.C():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after context cancellation")
		}
	}
}

func TestNilBusPublishIsNoOp(t *testing.T) {
	var bus *Bus
	bus.Publish(context.Background(), Envelope{Topic: TopicServerLog})
	bus.Shutdown()
}
