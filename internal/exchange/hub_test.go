package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.clientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("clients = %d, want %d", h.clientCount(), want)
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.Broadcast(Message{Type: "trade_executed", MarketID: "m1", Side: "YES"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if got.Type != "trade_executed" || got.MarketID != "m1" {
		t.Errorf("message = %+v", got)
	}
}

func TestHubPrunesDeadClientsDuringBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alive := dialHub(t, srv)
	defer alive.Close()
	dead := dialHub(t, srv)
	waitForClients(t, hub, 2)

	// Kill one connection, then keep broadcasting until its server-side
	// write fails and the hub drops it. The live client must keep
	// receiving throughout.
	dead.Close()

	deadline := time.Now().Add(3 * time.Second)
	for hub.clientCount() > 1 && time.Now().Before(deadline) {
		hub.Broadcast(Message{Type: "trade_executed", MarketID: "m1"})
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.clientCount(); got != 1 {
		t.Fatalf("clients after dead peer = %d, want 1", got)
	}

	hub.Broadcast(Message{Type: "market_resolved", MarketID: "m1", Outcome: "YES"})
	alive.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var got Message
		if err := alive.ReadJSON(&got); err != nil {
			t.Fatalf("live client read: %v", err)
		}
		if got.Type == "market_resolved" {
			break
		}
	}
}
