package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/engine"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/metrics"
)

type fakeEngine struct {
	bus *notify.Bus

	mu     sync.Mutex
	counts cache.Counts
	state  source.State
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{bus: notify.NewBus(), state: source.StateActive, counts: cache.Counts{Nodes: 2, Links: 1}}
}

func (f *fakeEngine) Subscribe(buffer int) (<-chan notify.Event, func()) {
	return f.bus.Subscribe(buffer)
}

func (f *fakeEngine) Counts(context.Context) (cache.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

func (f *fakeEngine) Graph(context.Context) (*engine.Graph, error) {
	return &engine.Graph{
		Nodes: []*schema.Node{{ID: "node_a", Label: "A"}, {ID: "node_b", Label: "B"}},
		Links: []*schema.Link{{ID: "link_ab", SourceID: "node_a", TargetID: "node_b"}},
	}, nil
}

func (f *fakeEngine) CurrentSource() source.DataSource {
	return source.DataSource{ID: "default", Name: "Default", Path: "/data"}
}

func (f *fakeEngine) State() source.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func startServer(t *testing.T, eng Engine) *Server {
	t.Helper()
	server := NewServer(eng, Config{Addr: "127.0.0.1:0", Logger: zaptest.NewLogger(t)})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(newFakeEngine(), Config{Addr: "127.0.0.1:0"})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if addr := server.Addr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Errorf("Addr() = %q, want a bound port", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestWebSocket_WelcomeStats(t *testing.T) {
	server := startServer(t, newFakeEngine())
	conn, ctx := dial(t, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("first message type = %s, want stats", msg.Type)
	}
	var st Stats
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("invalid stats payload: %v", err)
	}
	if st.Source != "default" || st.Nodes != 2 || st.Links != 1 || st.State != source.StateActive {
		t.Errorf("stats = %+v", st)
	}
}

func TestWebSocket_ForwardsChanges(t *testing.T) {
	eng := newFakeEngine()
	server := startServer(t, eng)
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	eng.bus.Publish(notify.Event{
		Kind:   schema.KindNode,
		Action: notify.ActionAdded,
		ID:     "node_c",
		Origin: notify.OriginExternal,
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeChange {
		t.Fatalf("message type = %s, want change", msg.Type)
	}
	var ev notify.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("invalid change payload: %v", err)
	}
	if ev.ID != "node_c" || ev.Action != notify.ActionAdded || ev.Origin != notify.OriginExternal {
		t.Errorf("event = %+v", ev)
	}

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("message after change = %s, want stats", msg.Type)
	}
}

func TestMultipleClients(t *testing.T) {
	eng := newFakeEngine()
	server := startServer(t, eng)

	const numClients = 3
	conns := make([]*websocket.Conn, numClients)
	var ctx context.Context
	for i := range conns {
		conns[i], ctx = dial(t, server)
		readMessage(t, ctx, conns[i])
	}
	waitForClients(t, server, numClients)

	eng.bus.Publish(notify.Event{Action: notify.ActionReload, Origin: notify.OriginLocal, Source: "work"})
	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeChange {
			t.Errorf("client %d got %s, want change", i, msg.Type)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	eng := newFakeEngine()
	server := NewServer(eng, Config{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	get := func() (int, map[string]any) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health failed: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("invalid health body: %v", err)
		}
		return resp.StatusCode, body
	}

	code, body := get()
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthy: code=%d body=%v", code, body)
	}

	eng.mu.Lock()
	eng.state = source.StateDegraded
	eng.mu.Unlock()

	code, body = get()
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("degraded: code=%d body=%v", code, body)
	}
}

func TestGraphEndpoint(t *testing.T) {
	server := NewServer(newFakeEngine(), Config{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/graph")
	if err != nil {
		t.Fatalf("GET /graph failed: %v", err)
	}
	defer resp.Body.Close()

	var g engine.Graph
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		t.Fatalf("invalid graph body: %v", err)
	}
	if len(g.Nodes) != 2 || len(g.Links) != 1 {
		t.Errorf("graph = %d nodes, %d links", len(g.Nodes), len(g.Links))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SourceSwitch("ok")

	server := NewServer(newFakeEngine(), Config{Gatherer: reg})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "graphsync_source_switches_total") {
		t.Errorf("metrics output missing switch counter:\n%s", body)
	}
}
