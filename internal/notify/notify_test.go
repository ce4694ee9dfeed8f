package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBus(t *testing.T) *RedisBus {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewRedisBus(client, nil)
	if err != nil {
		t.Fatalf("NewRedisBus() error = %v", err)
	}
	return bus
}

func TestRedisBusPublishValidation(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx := context.Background()

	if err := bus.PublishEmailStatus(ctx, EmailStatusUpdate{}); err == nil {
		t.Fatal("empty email status update should be rejected")
	}
	if err := bus.PublishPurchaseOrder(ctx, PurchaseOrderUpdate{POID: 1}); err == nil {
		t.Fatal("purchase order update without status should be rejected")
	}
}

func TestRedisBusPublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)

	err := bus.PublishEmailStatus(context.Background(), EmailStatusUpdate{
		POID:         42,
		TrackingCode: "0123456789abcdef0123456789abcdef",
		Status:       "approved",
		OccurredAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("publish with no subscribers should succeed, got %v", err)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx := context.Background()

	pubsub := bus.Subscribe(ctx)
	defer pubsub.Close()

	// Wait for the subscription to be established before publishing.
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscription handshake failed: %v", err)
	}

	want := PurchaseOrderUpdate{
		POID:           7,
		Status:         "approved",
		ApprovalStatus: "approved",
		OccurredAt:     time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := bus.PublishPurchaseOrder(ctx, want); err != nil {
		t.Fatalf("PublishPurchaseOrder() error = %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		if msg.Channel != ChannelPurchaseOrder {
			t.Fatalf("channel = %s, want %s", msg.Channel, ChannelPurchaseOrder)
		}
		var got PurchaseOrderUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if got.POID != want.POID || got.ApprovalStatus != want.ApprovalStatus {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	first := hub.Register()
	second := hub.Register()
	defer hub.Unregister(second)

	frame := Frame{Channel: ChannelEmailStatus, Payload: []byte(`{"poId":1}`)}
	hub.Broadcast(frame)

	for _, ch := range []chan Frame{first, second} {
		select {
		case got := <-ch:
			if got.Channel != frame.Channel {
				t.Fatalf("channel = %s, want %s", got.Channel, frame.Channel)
			}
		default:
			t.Fatal("client did not receive broadcast frame")
		}
	}

	hub.Unregister(first)
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.ClientCount())
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	hub.Register()

	// Fill the client's buffer and then one more to trigger the drop.
	frame := Frame{Channel: ChannelEmailStatus, Payload: []byte(`{}`)}
	for i := 0; i < clientBufferSize+1; i++ {
		hub.Broadcast(frame)
	}

	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0 after drop", hub.ClientCount())
	}
}

func TestHubUnregisterTwice(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	ch := hub.Register()

	hub.Unregister(ch)
	hub.Unregister(ch)

	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", hub.ClientCount())
	}
}
