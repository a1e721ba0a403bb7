package wsclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/links234/streamcore/internal/config"
	"github.com/links234/streamcore/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recordedSubscribe is one subscribe frame a mock server observed,
// decoded well enough to compare asset sets across reconnects.
type recordedSubscribe struct {
	assetIDs []string
}

// mockWSServer upgrades every incoming connection and hands it to
// accept, which runs in its own goroutine per connection.
func mockWSServer(t *testing.T, accept func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go accept(c)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestReconnectResendsSameSubscription covers E3: after the server
// forces a disconnect, the client must reconnect and resend the exact
// same subscribe frame it sent on the first connect, not some reduced
// or different subscription state.
func TestReconnectResendsSameSubscription(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []recordedSubscribe
	firstConnDone := make(chan struct{})
	secondConnDone := make(chan struct{})

	connCount := 0
	srv := mockWSServer(t, func(c *websocket.Conn) {
		defer c.Close()

		var msg types.WSSubscribeMsg
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		mu.Lock()
		got = append(got, recordedSubscribe{assetIDs: msg.AssetIDs})
		n := len(got)
		mu.Unlock()

		if n == 1 {
			close(firstConnDone)
			// Force the client to drop this connection and reconnect.
			c.Close()
			return
		}
		close(secondConnDone)
		// Keep the second connection open for the rest of the test.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	cfg := config.TransportConfig{
		InitialReconnectionDelay: 10 * time.Millisecond,
		MaxReconnectionDelay:     20 * time.Millisecond,
		EventBufferSize:          16,
	}
	conn := NewConn(wsURL(srv), ChannelMarket, nil, cfg, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.Subscribe(ctx, []string{"asset-1", "asset-2"}, nil); err != nil {
		t.Fatalf("Subscribe before connect: %v", err)
	}
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-firstConnDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first connection's subscribe frame")
	}
	select {
	case <-secondConnDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect's subscribe frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 subscribe frames, got %d", len(got))
	}
	want := []string{"asset-1", "asset-2"}
	for i, frame := range got {
		if !sameSet(frame.assetIDs, want) {
			t.Fatalf("subscribe frame %d assets = %v, want %v", i, frame.assetIDs, want)
		}
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

// TestStartReturnsConnectErrorOnUnreachableHost covers the failure-fast
// path: Start must surface a first-attempt dial failure synchronously
// as a *ConnectError rather than swallowing it into a background retry.
func TestStartReturnsConnectErrorOnUnreachableHost(t *testing.T) {
	t.Parallel()
	cfg := config.TransportConfig{
		InitialReconnectionDelay: 10 * time.Millisecond,
		MaxReconnectionDelay:     20 * time.Millisecond,
		EventBufferSize:          16,
	}
	conn := NewConn("ws://127.0.0.1:1/unreachable", ChannelMarket, nil, cfg, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := conn.Start(ctx)
	if err == nil {
		t.Fatal("expected Start to fail against an unreachable host")
	}
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected a *ConnectError, got %T: %v", err, err)
	}
	if connErr.Channel != ChannelMarket {
		t.Fatalf("Channel = %v, want %v", connErr.Channel, ChannelMarket)
	}
}
