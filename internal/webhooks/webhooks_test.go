package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastDispatcher returns a dispatcher with no retry backoff so tests
// observe a single attempt per delivery.
func fastDispatcher(store Store) *Dispatcher {
	return NewDispatcher(store).WithRetry(1, time.Millisecond)
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:         "wh_test1",
		BusinessID: "biz_1",
		URL:        "https://example.com/hook",
		Secret:     "secret123",
		Events:     []string{"payment.succeeded"},
		Active:     true,
		CreatedAt:  time.Now(),
	}

	// Create
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	sub.Active = false
	store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	store.Delete(ctx, "wh_test1")
	_, err = store.Get(ctx, "wh_test1")
	if err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByBusiness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", BusinessID: "biz_a", Events: []string{"payment.succeeded"}})
	store.Create(ctx, &Subscription{ID: "wh2", BusinessID: "biz_b", Events: []string{"payment.succeeded"}})
	store.Create(ctx, &Subscription{ID: "wh3", BusinessID: "biz_a", Events: []string{"trial.started"}})

	subs, _ := store.GetByBusiness(ctx, "biz_a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for biz_a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", Events: []string{"payment.succeeded", "trial.started"}})
	store.Create(ctx, &Subscription{ID: "wh2", Events: []string{"request.rejected"}})
	store.Create(ctx, &Subscription{ID: "wh3", Events: []string{"payment.succeeded"}})

	subs, _ := store.GetByEvent(ctx, "payment.succeeded")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for payment.succeeded, got %d", len(subs))
	}
}

func TestMemoryStore_EmptyEventListMatchesEverything(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", Events: nil})

	subs, _ := store.GetByEvent(ctx, "trial.expired")
	if len(subs) != 1 {
		t.Errorf("Expected catch-all subscription to match, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	payload := []byte(`{"type":"payment.succeeded","data":{}}`)
	secret := "test_secret_key"

	sig := sign(payload, secret)

	// Verify manually
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

func TestSign_DifferentSecrets(t *testing.T) {
	payload := []byte(`{"test": true}`)
	sig1 := sign(payload, "secret1")
	sig2 := sign(payload, "secret2")

	if sig1 == sig2 {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Notify tests
// ---------------------------------------------------------------------------

func TestNotify_SendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"payment.succeeded"},
		Active: true,
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "payment.succeeded", map[string]interface{}{"amount": float64(500000)})

	// Wait for async delivery
	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 webhook delivery, got %d", received.Load())
	}
}

func TestNotify_SkipsInactiveSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"payment.succeeded"},
		Active: false, // Inactive
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "payment.succeeded", nil)

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries for inactive sub, got %d", received.Load())
	}
}

func TestNotify_ScopedToOwningBusiness(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	// biz_a's hook must not see biz_b's events; the platform-wide hook sees both.
	store.Create(ctx, &Subscription{ID: "wh1", BusinessID: "biz_a", URL: server.URL, Events: []string{"trial.started"}, Active: true})
	store.Create(ctx, &Subscription{ID: "wh2", URL: server.URL, Events: []string{"trial.started"}, Active: true})

	d := fastDispatcher(store)
	d.Notify(ctx, "trial.started", map[string]interface{}{"businessId": "biz_b"})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected only the platform-wide delivery, got %d", received.Load())
	}
}

func TestNotify_IncludesSignatureAndHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig, gotEvent, gotTimestamp string
	var gotBody []byte
	secret := "test_webhook_secret" //nolint:gosec // test credential

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Ratedly-Signature")
		gotEvent = r.Header.Get("X-Ratedly-Event")
		gotTimestamp = r.Header.Get("X-Ratedly-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"request.approved"},
		Active: true,
		Secret: secret,
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "request.approved", map[string]interface{}{"requestedTier": "premium"})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotEvent != "request.approved" {
		t.Errorf("Expected event header request.approved, got %s", gotEvent)
	}
	if gotTimestamp == "" {
		t.Error("Expected timestamp header")
	}
	if gotSig == "" {
		t.Fatal("Expected signature header")
	}

	// Verify signature over the exact delivered body
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(gotBody)
	expected := hex.EncodeToString(h.Sum(nil))

	if gotSig != expected {
		t.Errorf("Signature mismatch: %s != %s", gotSig, expected)
	}

	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse webhook payload: %v", err)
	}
	if parsed.Type != "request.approved" {
		t.Errorf("Expected type request.approved, got %s", parsed.Type)
	}
	if parsed.Data["requestedTier"] != "premium" {
		t.Errorf("Expected payload data to round-trip, got %v", parsed.Data)
	}
}

func TestNotify_ErrorUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	// Server that returns 500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"payment.failed"},
		Active: true,
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "payment.failed", nil)

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastError == "" {
		t.Error("Expected lastError to be set after 500 response")
	}
	if sub.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", sub.ConsecutiveFailures)
	}
}

func TestNotify_SuccessUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:                  "wh1",
		URL:                 server.URL,
		Events:              []string{"payment.succeeded"},
		Active:              true,
		ConsecutiveFailures: 3,
		LastError:           "status 500",
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "payment.succeeded", nil)

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastSuccess == nil {
		t.Error("Expected lastSuccess to be set after successful delivery")
	}
	if sub.LastError != "" {
		t.Errorf("Expected no error after success, got %s", sub.LastError)
	}
	if sub.ConsecutiveFailures != 0 {
		t.Errorf("Expected failure streak reset, got %d", sub.ConsecutiveFailures)
	}
}

func TestNotify_RetriesTransientFailures(t *testing.T) {
	store := NewMemoryStore()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"payment.succeeded"},
		Active: true,
	})

	d := NewDispatcher(store).WithRetry(3, 5*time.Millisecond)
	d.Notify(ctx, "payment.succeeded", nil)

	time.Sleep(300 * time.Millisecond)

	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts (503 then 200), got %d", attempts.Load())
	}
	sub, _ := store.Get(ctx, "wh1")
	if sub.LastSuccess == nil {
		t.Error("Expected delivery to eventually succeed")
	}
}

func TestNotify_BadRequestIsNotRetried(t *testing.T) {
	store := NewMemoryStore()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(400)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"payment.succeeded"},
		Active: true,
	})

	d := NewDispatcher(store).WithRetry(3, 5*time.Millisecond)
	d.Notify(ctx, "payment.succeeded", nil)

	time.Sleep(200 * time.Millisecond)

	if attempts.Load() != 1 {
		t.Errorf("Expected a single attempt for a 400 response, got %d", attempts.Load())
	}
}

func TestNotify_DisablesAfterRepeatedFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:                  "wh1",
		URL:                 server.URL,
		Events:              []string{"payment.failed"},
		Active:              true,
		ConsecutiveFailures: maxConsecutiveFailures - 1,
	})

	d := fastDispatcher(store)
	d.Notify(ctx, "payment.failed", nil)

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.Active {
		t.Error("Expected subscription to be disabled after repeated failures")
	}
}

// ---------------------------------------------------------------------------
// Emitter tests
// ---------------------------------------------------------------------------

func TestEmitter_NilIsNoOp(t *testing.T) {
	var e *Emitter
	// Must not panic.
	e.Notify(context.Background(), "trial.started", nil)
}

func TestEmitter_DelegatesToDispatcher(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:     "wh1",
		URL:    server.URL,
		Events: []string{"trial.started"},
		Active: true,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEmitter(fastDispatcher(store), logger)
	e.Notify(ctx, "trial.started", map[string]interface{}{"businessId": ""})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected emitter to deliver via dispatcher, got %d", received.Load())
	}
}
