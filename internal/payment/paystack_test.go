package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaystack_Initialize(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]interface{}{
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code":       "abc123",
				"reference":         "TIER_req_1_1700000000000",
			},
		})
	}))
	defer srv.Close()

	gw := NewPaystack("sk_test_secret", srv.URL)
	auth, err := gw.Initialize(context.Background(), InitializeRequest{
		Reference: "TIER_req_1_1700000000000",
		Email:     "owner@mamacass.ng",
		Amount:    500_000,
		Currency:  "NGN",
		PlanCode:  "PLN_rrtvrpb3ht84h4g",
	})
	require.NoError(t, err)

	assert.Equal(t, "/transaction/initialize", gotPath)
	assert.Equal(t, float64(500_000), gotBody["amount"])
	assert.Equal(t, "PLN_rrtvrpb3ht84h4g", gotBody["plan"])
	assert.Equal(t, "https://checkout.paystack.com/abc123", auth.AuthorizationURL)
	assert.Equal(t, "abc123", auth.AccessCode)
	assert.Equal(t, "TIER_req_1_1700000000000", auth.Reference)
}

func TestPaystack_Initialize_GatewayRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Invalid amount",
		})
	}))
	defer srv.Close()

	gw := NewPaystack("sk_test_secret", srv.URL)
	_, err := gw.Initialize(context.Background(), InitializeRequest{Reference: "r", Amount: 0})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "Invalid amount")
}

func TestPaystack_Verify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/REF123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"status":           "success",
				"reference":        "REF123",
				"amount":           1500000,
				"currency":         "NGN",
				"paid_at":          "2026-08-01T12:30:00Z",
				"channel":          "card",
				"gateway_response": "Successful",
			},
		})
	}))
	defer srv.Close()

	gw := NewPaystack("sk_test_secret", srv.URL)
	tx, err := gw.Verify(context.Background(), "REF123")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, tx.Status)
	assert.Equal(t, int64(1500000), tx.Amount)
	assert.Equal(t, "NGN", tx.Currency)
	assert.Equal(t, "card", tx.Channel)
	require.NotNil(t, tx.PaidAt)
}

func TestPaystack_Verify_AmbiguousStatusStaysPending(t *testing.T) {
	for _, gatewayState := range []string{"pending", "ongoing", "processing", "abandoned", "queued"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]interface{}{"status": gatewayState, "reference": "REF123"},
			})
		}))

		gw := NewPaystack("sk", srv.URL)
		tx, err := gw.Verify(context.Background(), "REF123")
		srv.Close()

		require.NoError(t, err, gatewayState)
		assert.Equal(t, StatusPending, tx.Status, gatewayState)
	}
}

func TestPaystack_Verify_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]interface{}{
				"status":           "failed",
				"reference":        "REF123",
				"gateway_response": "Declined",
			},
		})
	}))
	defer srv.Close()

	gw := NewPaystack("sk", srv.URL)
	tx, err := gw.Verify(context.Background(), "REF123")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
	assert.Equal(t, "Declined", tx.GatewayResponse)
}

func TestPaystack_Verify_UnknownReference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Transaction reference not found",
		})
	}))
	defer srv.Close()

	gw := NewPaystack("sk", srv.URL)
	_, err := gw.Verify(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrTransactionMissing)
}

func TestPaystack_Verify_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	gw := NewPaystack("sk", srv.URL)
	_, err := gw.Verify(context.Background(), "REF123")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}
