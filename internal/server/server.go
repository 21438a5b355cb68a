package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// Server represents the WebSocket server
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	logger      *log.Logger
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	httpServer  *http.Server
	gameService *GameService
}

// NewServer creates a new WebSocket server
func NewServer(addr string, logger *log.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins
				// In production, implement proper origin checking
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		logger:      logger.WithPrefix("server"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the WebSocket server and blocks until it stops
func (s *Server) Start() error {
	go s.run()

	// Create a dedicated mux for this server instance
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info("Starting WebSocket server", "addr", s.addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections, drops the live ones, and
// waits for the HTTP listener to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	// Close all connections
	s.mu.Lock()
	for conn := range s.connections {
		_ = conn.Close() // Ignore close errors during shutdown
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// run handles connection lifecycle
func (s *Server) run() {
	for {
		select {
		case conn := <-s.register:
			s.mu.Lock()
			s.connections[conn] = true
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client connected", "total", total)

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.connections[conn]; ok {
				delete(s.connections, conn)

				// Reclaim the player's room when the transport drops
				player := conn.GetPlayer()
				if !player.IsZero() && s.gameService != nil {
					s.logger.Info("Cleaning up disconnected player", "player", player, "room", conn.GetRoom())
					s.gameService.HandleDisconnect(player)
				}

				_ = conn.Close() // Ignore close errors during unregistration
			}
			total := len(s.connections)
			s.mu.Unlock()
			s.logger.Info("Client disconnected", "total", total)

		case <-s.ctx.Done():
			return
		}
	}
}

// addConnection hands a new connection to the run loop. Returns false
// when the server is shutting down and the connection was not tracked.
func (s *Server) addConnection(client *Connection) bool {
	select {
	case s.register <- client:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// watchConnection unregisters the connection once it closes. During
// shutdown the run loop is gone and Shutdown already closed every
// tracked connection, so the watcher just returns.
func (s *Server) watchConnection(client *Connection) {
	<-client.ctx.Done()
	select {
	case s.unregister <- client:
	case <-s.ctx.Done():
	}
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := NewConnection(conn, s.logger, s.gameService)
	if !s.addConnection(client) {
		_ = client.Close()
		return
	}
	client.Start()

	// Connection cleanup is handled by the connection itself
	go s.watchConnection(client)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK") // Ignore write errors for health check
}

// SetGameService sets the game service for the server
func (s *Server) SetGameService(gameService *GameService) {
	s.gameService = gameService
}
