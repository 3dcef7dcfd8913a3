// Package server serves rendered templates over HTTP and WebSocket.
//
// GET /render/{name} streams a render to the response, flushing each time
// the render yields on its soft limit. GET /ws/render/{name} streams the
// same output as one WebSocket message per flush. GET /ws pushes registry
// reload notifications, and GET /templates lists what can be rendered.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/sojourn/internal/config"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/renderer"
)

// Client is a WebSocket client receiving reload notifications
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// Server serves templates from the registry published by a Holder
type Server struct {
	config       *config.Config
	holder       *registry.Holder
	renderer     *renderer.Renderer
	logger       logging.Logger
	httpServer   *http.Server
	serverMutex  sync.RWMutex
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to reload clients
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a server rendering templates from holder.
func New(cfg *config.Config, holder *registry.Holder, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	logger = logger.WithComponent("server")
	return &Server{
		config: cfg,
		holder: holder,
		renderer: renderer.New(holder, renderer.Options{
			SoftLimit: cfg.Render.SoftLimit,
			Logger:    logger,
			Context:   cfg.RenderContext(),
		}),
		logger:  logger,
		clients: make(map[*websocket.Conn]*Client),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Handler returns the routes wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /templates", s.handleTemplates)
	mux.HandleFunc("GET /render/{name}", s.handleRender)
	mux.HandleFunc("POST /render/{name}", s.handleRender)
	mux.HandleFunc("GET /ws/render/{name}", s.handleWebSocketRender)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s.addMiddleware(mux)
}

// Start serves on the configured address until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.forwardRegistryEvents(ctx, s.holder.Watch())

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "serving templates", "addr", ln.Addr().String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// forwardRegistryEvents turns registry swaps into reload notifications.
func (s *Server) forwardRegistryEvents(ctx context.Context, events <-chan registry.Event) {
	defer s.holder.UnWatch(events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcastMessage(UpdateMessage{
				Type:      "template_" + ev.Type.String(),
				Target:    ev.Name,
				Timestamp: ev.Timestamp,
			})
		}
	}
}

func (s *Server) broadcastMessage(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "failed to marshal message")
		return
	}

	s.clientsMutex.RLock()
	var slow []*websocket.Conn
	for conn, client := range s.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	s.clientsMutex.RUnlock()

	for _, conn := range slow {
		s.unregisterClient(conn)
		conn.Close(websocket.StatusPolicyViolation, "client too slow")
	}
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// originHosts lists the hosts browsers may call from.
func (s *Server) originHosts() []string {
	port := strconv.Itoa(s.config.Server.Port)
	return []string{
		net.JoinHostPort(s.config.Server.Host, port),
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port),
	}
}

func (s *Server) isAllowedOrigin(origin string) bool {
	for _, host := range s.originHosts() {
		if origin == "http://"+host || origin == "https://"+host {
			return true
		}
	}
	return false
}

// Shutdown gracefully shuts down the server and closes reload clients
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down server")

		s.clientsMutex.Lock()
		clients := s.clients
		s.clients = make(map[*websocket.Conn]*Client)
		s.clientsMutex.Unlock()
		for conn, client := range clients {
			close(client.send)
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})
	return shutdownErr
}
