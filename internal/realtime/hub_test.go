package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: "payment.succeeded", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"request.created", "request.approved"},
	}}

	created := &Event{Type: "request.created"}
	approved := &Event{Type: "request.approved"}
	trial := &Event{Type: "trial.started"}

	if !h.shouldSend(client, created) {
		t.Error("Should receive request.created events")
	}
	if !h.shouldSend(client, approved) {
		t.Error("Should receive request.approved events")
	}
	if h.shouldSend(client, trial) {
		t.Error("Should NOT receive trial.started events")
	}
}

func TestShouldSend_BusinessFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BusinessIDs: []string{"biz_1"},
	}}

	matching := &Event{
		Type: "request.created",
		Data: map[string]interface{}{"businessId": "biz_1"},
	}
	notMatching := &Event{
		Type: "request.created",
		Data: map[string]interface{}{"businessId": "biz_2"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on businessId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match other businesses")
	}
}

func TestShouldSend_TierFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Tiers: []string{"premium"},
	}}

	premium := &Event{
		Type: "request.created",
		Data: map[string]interface{}{"tier": "premium"},
	}
	verified := &Event{
		Type: "request.created",
		Data: map[string]interface{}{"tier": "verified"},
	}

	if !h.shouldSend(client, premium) {
		t.Error("Should match on tier")
	}
	if h.shouldSend(client, verified) {
		t.Error("Should NOT match other tiers")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinAmount: 1_000_000,
	}}

	large := &Event{
		Type: "payment.succeeded",
		Data: map[string]interface{}{"amount": float64(1_500_000)},
	}
	small := &Event{
		Type: "payment.succeeded",
		Data: map[string]interface{}{"amount": float64(500_000)},
	}
	trial := &Event{
		Type: "trial.started",
		Data: map[string]interface{}{"tier": "verified"},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large payment")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small payment")
	}
	if !h.shouldSend(client, trial) {
		t.Error("MinAmount filter should only apply to payment events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: "request.created"}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonMapData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BusinessIDs: []string{"biz_1"},
	}}

	// Event with non-map data should not crash
	event := &Event{
		Type: "request.created",
		Data: "string data not a map",
	}

	// Business filter skips non-map data (can't extract the ID), so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-map data should pass through when business filter can't extract the ID")
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

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: "request.created", Timestamp: time.Now()})
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
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
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

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      "payment.succeeded",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"amount": float64(500_000)},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_Emit(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.Emit("request.created", map[string]interface{}{
		"businessId": "biz_1", "tier": "premium",
	})
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

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants trial events
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []string{"trial.started"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a request event (should be filtered out)
	h.Broadcast(&Event{Type: "request.created", Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive request event")
	default:
		// Good - filtered out
	}

	// Send a trial event (should be received)
	h.Broadcast(&Event{Type: "trial.started", Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive trial event")
	}
}
