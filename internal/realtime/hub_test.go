package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jkimani/pesalock/internal/notify"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// wants tests
// ---------------------------------------------------------------------------

func TestWants_AddressedUser(t *testing.T) {
	client := &Client{userID: "usr_a"}

	mine := &notify.Event{Type: notify.EventOrderCreated, UserID: "usr_a"}
	theirs := &notify.Event{Type: notify.EventOrderCreated, UserID: "usr_b"}

	if !client.wants(mine) {
		t.Error("client should receive events addressed to their user")
	}
	if client.wants(theirs) {
		t.Error("client should NOT receive another user's events")
	}
}

func TestWants_EventTypeFilter(t *testing.T) {
	client := &Client{
		userID: "usr_a",
		sub:    Subscription{EventTypes: []notify.EventType{notify.EventWalletUpdated}},
	}

	wallet := &notify.Event{Type: notify.EventWalletUpdated, UserID: "usr_a"}
	order := &notify.Event{Type: notify.EventOrderClaimed, UserID: "usr_a"}

	if !client.wants(wallet) {
		t.Error("should receive subscribed wallet events")
	}
	if client.wants(order) {
		t.Error("should NOT receive unsubscribed order events")
	}
}

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{userID: "usr_a"}

	event := &notify.Event{Type: notify.EventOrderCompleted, UserID: "usr_a"}
	if !client.wants(event) {
		t.Error("empty subscription should receive all of the user's events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_DeliverAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	err := h.Deliver(context.Background(), &notify.Event{
		Type: notify.EventOrderCreated, UserID: "usr_a", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:    h,
		userID: "usr_a",
		send:   make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_DeliverToAddressedClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	mine := &Client{hub: h, userID: "usr_a", send: make(chan []byte, 256)}
	other := &Client{hub: h, userID: "usr_b", send: make(chan []byte, 256)}

	h.register <- mine
	h.register <- other
	time.Sleep(50 * time.Millisecond)

	h.Deliver(context.Background(), &notify.Event{
		Type:      notify.EventWalletUpdated,
		UserID:    "usr_a",
		Timestamp: time.Now(),
		Data:      map[string]any{"availableBalance": "5.00"},
	})

	select {
	case msg := <-mine.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for delivery")
	}

	select {
	case <-other.send:
		t.Error("other user's client should NOT receive the event")
	default:
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredDelivery(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants completion events
	client := &Client{
		hub:    h,
		userID: "usr_a",
		send:   make(chan []byte, 256),
		sub:    Subscription{EventTypes: []notify.EventType{notify.EventOrderCompleted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Wallet event should be filtered out
	h.Deliver(context.Background(), &notify.Event{
		Type: notify.EventWalletUpdated, UserID: "usr_a", Timestamp: time.Now(),
	})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive wallet event")
	default:
		// Good - filtered out
	}

	// Completion event should be received
	h.Deliver(context.Background(), &notify.Event{
		Type: notify.EventOrderCompleted, UserID: "usr_a", Timestamp: time.Now(),
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive completion event")
	}
}
