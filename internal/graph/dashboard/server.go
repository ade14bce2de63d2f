// Package dashboard serves the live view of a graphsync engine: a WebSocket
// stream of change notifications, the current graph, health and metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/cache"
	"github.com/mschirtzinger/graphsync/internal/graph/engine"
	"github.com/mschirtzinger/graphsync/internal/graph/notify"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/logging"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeChange carries one notify.Event.
	MessageTypeChange MessageType = "change"

	// MessageTypeStats carries a Stats snapshot. Sent on connect and after
	// every change.
	MessageTypeStats MessageType = "stats"
)

// Message is what clients receive on /ws.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Stats is the engine summary shown by the dashboard.
type Stats struct {
	Source string       `json:"source"`
	Path   string       `json:"path"`
	State  source.State `json:"state"`
	cache.Counts
}

// Engine is the part of engine.Engine the dashboard reads.
type Engine interface {
	Subscribe(buffer int) (<-chan notify.Event, func())
	Counts(ctx context.Context) (cache.Counts, error)
	Graph(ctx context.Context) (*engine.Graph, error)
	CurrentSource() source.DataSource
	State() source.State
}

// Config holds server configuration
type Config struct {
	// Addr to listen on; port 0 picks a free port.
	Addr string

	Logger *zap.Logger

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	engine   Engine
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard for eng.
func NewServer(eng Engine, cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      cfg.Addr,
		engine:    eng,
		gatherer:  cfg.Gatherer,
		logger:    logging.OrNop(cfg.Logger).Named("dashboard"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /graph", s.handleGraph)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Start listens, forwards engine notifications to clients and serves HTTP.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	events, unsubscribe := s.engine.Subscribe(256)

	s.wg.Add(3)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.forward(events)
	}()
	go func() {
		defer s.wg.Done()
		s.logger.Info("Dashboard listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.server != nil {
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = errors.Wrap(serr, "server shutdown error")
		}
	}
	s.wg.Wait()

	s.logger.Info("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. A full queue drops it.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("Broadcast queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

// forward turns notifications into change and stats messages until the server
// stops or the bus closes.
func (s *Server) forward(events <-chan notify.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := newMessage(MessageTypeChange, ev)
			if err != nil {
				s.logger.Error("Failed to encode event", zap.Error(err))
				continue
			}
			s.Broadcast(msg)
			s.broadcastStats()
		}
	}
}

func (s *Server) broadcastStats() {
	msg, err := s.statsMessage(s.ctx)
	if err != nil {
		s.logger.Warn("Failed to collect stats", zap.Error(err))
		return
	}
	s.Broadcast(msg)
}

func (s *Server) stats(ctx context.Context) (Stats, error) {
	ds := s.engine.CurrentSource()
	counts, err := s.engine.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Source: ds.ID, Path: ds.Path, State: s.engine.State(), Counts: counts}, nil
}

func (s *Server) statsMessage(ctx context.Context) (Message, error) {
	st, err := s.stats(ctx)
	if err != nil {
		return Message{}, err
	}
	return newMessage(MessageTypeStats, st)
}

func newMessage(t MessageType, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Timestamp: time.Now(), Data: data}, nil
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("Failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("Failed to send to client", zap.Error(err))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// The snapshot goes out before the client is registered so it is always
	// the first message.
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	if msg, err := s.statsMessage(ctx); err == nil {
		if data, err := json.Marshal(msg); err == nil {
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
	}
	cancel()

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("Client connected", zap.Int("clients", clientCount))

	go s.readLoop(conn)
}

// readLoop detects disconnects; client messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("Client disconnected", zap.Int("clients", clientCount))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats(r.Context())
	status := "ok"
	code := http.StatusOK
	switch {
	case err != nil:
		status, code = "error", http.StatusServiceUnavailable
	case st.State == source.StateDegraded:
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"clients": s.ClientCount(),
		"stats":   st,
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.engine.Graph(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>graphsync</title>
</head>
<body>
    <h1>graphsync</h1>
    <p>Change stream: <code>ws://%s/ws</code></p>
    <p>Graph: <a href="/graph">/graph</a></p>
    <p>Health: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Addr returns the listening address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
