package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/internal/eventbus"
)

func TestSubscribeStartsAtHeadNoReplay(t *testing.T) {
	bus := eventbus.New(4)
	defer bus.Close()

	bus.Publish(eventbus.Envelope{Kind: eventbus.KindSessionCreated, SessionID: "s1"})
	bus.Publish(eventbus.Envelope{Kind: eventbus.KindSessionCreated, SessionID: "s2"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cur := bus.Subscribe(ctx)

	bus.Publish(eventbus.Envelope{Kind: eventbus.KindSessionCreated, SessionID: "s3"})
	waitNotify(t, cur)

	got := cur.Poll()
	if len(got) != 1 || got[0].SessionID != "s3" {
		t.Fatalf("expected only the post-subscribe event s3, got %+v", got)
	}
}

func TestLaggingCursorGetsMarker(t *testing.T) {
	bus := eventbus.New(2)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cur := bus.Subscribe(ctx)

	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.Envelope{Kind: eventbus.KindSpeechRequested})
	}
	waitNotify(t, cur)

	got := cur.Poll()
	if len(got) == 0 || got[0].Kind != eventbus.KindLag {
		t.Fatalf("expected a lag marker to lead the batch, got %+v", got)
	}
}

func waitNotify(t *testing.T, cur *eventbus.Cursor) {
	t.Helper()
	select {
	case msg := <-cur.Notify():
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
