package khalti

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/subpay-backend/pkg/cache"
	"github.com/angelmondragon/subpay-backend/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(Config{
		SecretKey:   "test-secret",
		BaseURL:     server.URL,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BackoffUnit: time.Millisecond,
	}, cache.NewMemory(), nil, nil)
	return client, server
}

func initiateRequest(orderID string) InitiateRequest {
	return InitiateRequest{
		Amount:            decimal.RequireFromString("1500.50"),
		PurchaseOrderID:   orderID,
		PurchaseOrderName: "Premium monthly",
		ReturnURL:         "https://app.example.com/payments/return",
		WebsiteURL:        "https://app.example.com",
		Customer:          CustomerInfo{Name: "Asha", Email: "asha@example.com"},
	}
}

func TestInitiateRetriesThroughRateLimit(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&attempts, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "Key test-secret", r.Header.Get("Authorization"))

		var wire map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Equal(t, float64(150050), wire["amount"])

		_ = json.NewEncoder(w).Encode(InitiateResponse{
			Pidx:       "px-123",
			PaymentURL: "https://gateway.example.com/pay/px-123",
		})
	})

	resp, err := client.Initiate(context.Background(), initiateRequest("SUB-abc-1"))
	require.NoError(t, err)
	assert.Equal(t, "px-123", resp.Pidx)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestInitiateRateLimitExhaustsAttempts(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Initiate(context.Background(), initiateRequest("SUB-abc-2"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeRateLimit))
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestInitiateBadRequestIsPermanent(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.Initiate(context.Background(), initiateRequest("SUB-abc-3"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "400 must not be retried")
}

func TestInitiateUnauthorizedIsPermanent(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Initiate(context.Background(), initiateRequest("SUB-abc-4"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

func TestInitiateNetworkErrorRetriesThenFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // every dial now fails

	client := New(Config{
		SecretKey:   "test-secret",
		BaseURL:     server.URL,
		Timeout:     time.Second,
		MaxAttempts: 3,
		BackoffUnit: time.Millisecond,
	}, cache.NewMemory(), nil, nil)

	_, err := client.Initiate(context.Background(), initiateRequest("SUB-abc-5"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDependency))
}

func TestConcurrentInitiateDedup(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		_ = json.NewEncoder(w).Encode(InitiateResponse{Pidx: "px-dup", PaymentURL: "https://x"})
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = client.Initiate(context.Background(), initiateRequest("SUB-shared-1"))
		}(i)
	}
	wg.Wait()

	var succeeded, duplicated int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.IsCode(err, errors.CodeIdempotency):
			duplicated++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, duplicated)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "only one call may reach the network")
}

func TestVerifyCachesCompletedResult(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		_ = json.NewEncoder(w).Encode(lookupWireResponse{
			Pidx:          "px-done",
			TotalAmount:   150050,
			Status:        LookupStatusCompleted,
			TransactionID: "T1",
		})
	})

	first, err := client.Verify(context.Background(), "px-done")
	require.NoError(t, err)
	assert.True(t, first.Completed())
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("1500.50")))

	second, err := client.Verify(context.Background(), "px-done")
	require.NoError(t, err)
	assert.Equal(t, "T1", second.TransactionID)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts), "completed lookup must come from cache")
}

func TestVerifyDoesNotCachePendingResult(t *testing.T) {
	var attempts int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&attempts, 1)
		_ = json.NewEncoder(w).Encode(lookupWireResponse{
			Pidx:        "px-wait",
			TotalAmount: 100000,
			Status:      LookupStatusPending,
		})
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Verify(context.Background(), "px-wait")
		require.NoError(t, err)
		assert.False(t, resp.Completed())
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&attempts))
}

func TestRefundRejectsNegativeAmount(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no network call expected")
	})

	_, err := client.Refund(context.Background(), RefundRequest{
		Pidx:   "px-1",
		Amount: decimal.NewFromInt(-5),
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}
