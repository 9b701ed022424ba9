package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// HTTP is the stateless request/response variant: each JSON-RPC envelope is one POST
// to the configured endpoint, and the response body (if any) is delivered inbound.
// A non-2xx status is a transport-level error, not a protocol-level one.
type HTTP struct {
	logger    hclog.Logger
	def       config.ServerDefinition
	client    *http.Client
	onMessage MessageHandler
}

// NewHTTP creates an HTTP connection for the definition.
func NewHTTP(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler) *HTTP {
	return &HTTP{
		logger:    logger.Named("http"),
		def:       def,
		client:    &http.Client{Timeout: 60 * time.Second},
		onMessage: onMessage,
	}
}

// Start is a no-op: there is no session to establish. The initialize call itself
// is the first probe of the endpoint.
func (h *HTTP) Start(_ context.Context) error {
	return nil
}

// Send POSTs one envelope and feeds the response body back through the inbound path.
func (h *HTTP) Send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.def.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request for '%s': %w", errors.ErrTransport, h.def.ID, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST to '%s': %w", errors.ErrTransport, h.def.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: non-2xx status from '%s': %d", errors.ErrTransport, h.def.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response from '%s': %w", errors.ErrTransport, h.def.URL, err)
	}

	// Notifications are commonly acknowledged with an empty body; nothing to deliver.
	if len(bytes.TrimSpace(body)) > 0 {
		h.onMessage(body)
	}

	return nil
}

// Close releases idle connections; there is no session state.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
