package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	serrors "github.com/conneroisu/sojourn/internal/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Close reasons must fit in a control frame.
	maxCloseReason = 120
)

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originHosts(),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket upgrade failed")
	}
	return conn, err
}

// handleWebSocket registers a client for reload notifications and feeds it
// until either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 64),
		server: s,
	}
	s.registerClient(client)
	defer s.unregisterClient(conn)

	// Clients never send; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())
	client.writePump(ctx)
}

func (s *Server) registerClient(client *Client) {
	s.clientsMutex.Lock()
	s.clients[client.conn] = client
	count := len(s.clients)
	s.clientsMutex.Unlock()
	s.logger.Debug(context.Background(), "client connected", "clients", count)
}

func (s *Server) unregisterClient(conn *websocket.Conn) {
	s.clientsMutex.Lock()
	client, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(client.send)
	}
	count := len(s.clients)
	s.clientsMutex.Unlock()
	if ok {
		s.logger.Debug(context.Background(), "client disconnected", "clients", count)
	}
}

// ClientCount returns the number of connected reload clients.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.server.logger.Warn(ctx, err, "websocket write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// messageWriter sends each Write as one text message. The render sink
// writes once per flush, so every flush becomes one message.
type messageWriter struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (m messageWriter) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(m.ctx, writeWait)
	defer cancel()
	if err := m.conn.Write(ctx, websocket.MessageText, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// handleWebSocketRender streams a render as text messages and closes the
// connection normally when it completes. A failed render closes with an
// internal error status carrying the error message.
func (s *Server) handleWebSocketRender(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	params, injected, err := requestParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.accept(w, r)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	err = s.renderer.Render(ctx, messageWriter{ctx: ctx, conn: conn}, name, params, injected)
	if err != nil {
		s.logger.Warn(ctx, err, "websocket render failed", "template", name)
		conn.Close(closeStatus(err), closeReason(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

func closeStatus(err error) websocket.StatusCode {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return websocket.StatusGoingAway
	}
	if serrors.IsArgumentError(err) || serrors.HasCode(err, serrors.ErrCodeTemplateNotFound) ||
		serrors.HasCode(err, serrors.ErrCodeMissingParam) {
		return websocket.StatusPolicyViolation
	}
	return websocket.StatusInternalError
}

func closeReason(err error) string {
	msg := err.Error()
	if len(msg) > maxCloseReason {
		msg = msg[:maxCloseReason]
	}
	return msg
}
