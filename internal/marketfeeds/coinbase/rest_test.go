package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotClient_FetchBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/book", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("level"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sequence": 42,
			"bids": [["100.5", "1.25", "b1"]],
			"asks": [["101", "0.5", "a1"], ["102", "2", "a2"]]
		}`))
	}))
	defer srv.Close()

	snap, err := NewSnapshotClient(srv.URL+"/", 0).FetchBook(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.Sequence)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 2)
	assert.True(t, decimal.RequireFromString("100.5").Equal(snap.Bids[0].Price))
	assert.True(t, decimal.RequireFromString("1.25").Equal(snap.Bids[0].Size))
	assert.Equal(t, "a2", snap.Asks[1].OrderID)
}

func TestSnapshotClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products/ETH-USD/book" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"sequence": 1, "bids": [["1", "2"]], "asks": []}`))
	}))
	defer srv.Close()
	client := NewSnapshotClient(srv.URL, 0)

	_, err := client.FetchBook(context.Background(), "ETH-USD")
	assert.ErrorContains(t, err, "status 429")

	_, err = client.FetchBook(context.Background(), "BTC-USD")
	assert.ErrorContains(t, err, "decode BTC-USD snapshot")
}

func TestSnapshotClient_RateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"sequence": 1, "bids": [], "asks": []}`))
	}))
	defer srv.Close()
	client := NewSnapshotClient(srv.URL, 0.001)

	_, err := client.FetchBook(context.Background(), "BTC-USD")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.FetchBook(ctx, "BTC-USD")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
