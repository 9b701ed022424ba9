package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// WebSocket carries JSON-RPC envelopes as text frames over a single socket.
type WebSocket struct {
	logger    hclog.Logger
	def       config.ServerDefinition
	onMessage MessageHandler
	onExit    ExitHandler

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewWebSocket creates an unconnected WebSocket connection for the definition.
func NewWebSocket(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler, onExit ExitHandler) *WebSocket {
	return &WebSocket{
		logger:    logger.Named("websocket"),
		def:       def,
		onMessage: onMessage,
		onExit:    onExit,
	}
}

// Start dials the socket and begins the read loop.
func (w *WebSocket) Start(ctx context.Context) error {
	header := http.Header{}
	for k, v := range w.def.Headers {
		header.Set(k, v)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.def.URL, header)
	if err != nil {
		return fmt.Errorf("%w: dial '%s': %w", errors.ErrTransport, w.def.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)

	return nil
}

// Send writes one envelope as a text frame. Writes are serialized; gorilla allows
// only one concurrent writer.
func (w *WebSocket) Send(_ context.Context, data []byte) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: server '%s' not connected", errors.ErrTransport, w.def.ID)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write to '%s': %w", errors.ErrTransport, w.def.ID, err)
	}
	return nil
}

// Close shuts the socket down. The exit handler is suppressed.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			wasClosed := w.closed
			w.mu.Unlock()

			if !wasClosed {
				w.logger.Warn("WebSocket closed by peer", "server", w.def.ID, "error", err)
				w.onExit(fmt.Errorf("%w: socket closed: %w", errors.ErrTransport, err))
			}
			return
		}
		w.onMessage(data)
	}
}
