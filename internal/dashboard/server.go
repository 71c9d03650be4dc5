// Package dashboard provides a WebSocket server that streams sync activity.
//
// Connected clients receive a stats snapshot on connect, a sync_complete
// message for every finished source run, and refreshed stats after each
// run. Clients never send anything meaningful; the read loop only detects
// disconnects.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSyncComplete reports one finished source run.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries store and cache counters.
	MessageTypeStats MessageType = "stats"

	// MessageTypeCheckpointCleared reports a bulk checkpoint reset.
	MessageTypeCheckpointCleared MessageType = "checkpoint_cleared"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const writeTimeout = 5 * time.Second

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	welcomeMu sync.RWMutex
	welcome   func() (Message, bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: localhost)
	Host string

	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Logger for server activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 8080,
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	host := config.Host
	if host == "" {
		host = "localhost"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(host, fmt.Sprint(config.Port)),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.Named("dashboard"),
	}
}

// SetWelcome installs the function producing the message sent to each new
// client.
func (s *Server) SetWelcome(fn func() (Message, bool)) {
	s.welcomeMu.Lock()
	s.welcome = fn
	s.welcomeMu.Unlock()
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
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

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("stopped")
	return nil
}

// Broadcast queues a message for all connected clients. Messages are
// dropped when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast queue full, dropping message", zap.String("type", string(msg.Type)))
	}
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
				s.logger.Warn("failed to marshal message", zap.Error(err))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Debug("failed to send to client", zap.Error(err))
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
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.welcomeMu.RLock()
	welcome := s.welcome
	s.welcomeMu.RUnlock()
	if welcome != nil {
		if msg, ok := welcome(); ok {
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			if data, err := json.Marshal(msg); err == nil {
				ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, data)
				cancel()
			}
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Debug("client connected", zap.Int("clients", clientCount))

	go s.readLoop(conn)
}

// readLoop detects client disconnects.
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
	s.logger.Debug("client disconnected", zap.Int("clients", clientCount))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>roost dashboard</title>
</head>
<body>
    <h1>roost sync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
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
