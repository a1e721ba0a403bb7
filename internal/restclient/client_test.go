package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetOrderBookParsesLevelsAndDropsZeroSize(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"asset_id": "A1",
			"market":   "M1",
			"hash":     "abc",
			"bids": []map[string]string{
				{"price": "0.50", "size": "10"},
				{"price": "0.49", "size": "0"},
			},
			"asks": []map[string]string{
				{"price": "0.52", "size": "5"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	snap, err := c.GetOrderBook(context.Background(), "A1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("expected zero-size bid dropped, got bids=%v asks=%v", snap.Bids, snap.Asks)
	}
	if snap.Hash != "abc" {
		t.Fatalf("Hash = %q, want abc", snap.Hash)
	}
}

func TestGetOrderBookNotFoundReturnsEmptySnapshotAndNotFoundError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	snap, err := c.GetOrderBook(context.Background(), "A1")
	var nf *NotFoundError
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
	if !asNotFound(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestGetOrderBookNoOrderbookBodyTreatedAsNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"error": "No orderbook exists for asset"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.GetOrderBook(context.Background(), "A1")
	var nf *NotFoundError
	if !asNotFound(err, &nf) {
		t.Fatalf("expected *NotFoundError for a 200 'no orderbook' body, got %T: %v", err, err)
	}
}

func TestGetOrderBookRateLimited(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.GetOrderBook(context.Background(), "A1")
	if _, ok := err.(*RateLimitedError); !ok {
		t.Fatalf("expected *RateLimitedError, got %T: %v", err, err)
	}
}

func TestPostOrderRejectedByExchange(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient balance"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, _, err := c.PostOrder(context.Background(), PlaceOrderRequest{Body: map[string]string{"x": "y"}})
	if err == nil {
		t.Fatal("expected an error for a rejected order")
	}
}

func asNotFound(err error, target **NotFoundError) bool {
	nf, ok := err.(*NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
