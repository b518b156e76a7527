package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/cache/memory"
)

func startHub(t *testing.T) (*memory.SignalBus, *httptest.Server) {
	t.Helper()
	bus := memory.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHub_RoutesByWallet(t *testing.T) {
	bus, srv := startHub(t)

	alice := dial(t, srv, "?wallet=alice")
	hello := readJSON(t, alice)
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, []any{"progress:alice"}, hello["channels"])

	bob := dial(t, srv, "?wallet=bob")
	readJSON(t, bob)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, "progress:bob", []byte(`{"type":"progress","wallet":"bob"}`)))
	require.NoError(t, bus.Publish(ctx, "progress:alice", []byte(`{"type":"done","wallet":"alice"}`)))

	got := readJSON(t, alice)
	assert.Equal(t, "alice", got["wallet"])
	assert.Equal(t, "done", got["type"])

	got = readJSON(t, bob)
	assert.Equal(t, "bob", got["wallet"])
}

func TestHub_SubscribeMessage(t *testing.T) {
	bus, srv := startHub(t)

	conn := dial(t, srv, "")
	hello := readJSON(t, conn)
	assert.Empty(t, hello["channels"])

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "wallets": []string{"carol"}}))

	// The subscription is applied asynchronously; publish until it lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), "progress:carol", []byte(`{"type":"progress","wallet":"carol"}`))
			}
		}
	}()

	got := readJSON(t, conn)
	assert.Equal(t, "carol", got["wallet"])
}

func TestIsSubscribed_Wildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"progress:*": true}}
	assert.True(t, c.isSubscribed("progress:abc"))
	assert.False(t, c.isSubscribed("other:abc"))
}
