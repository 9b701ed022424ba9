package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// SSE speaks MCP over server-sent events: a long-lived GET stream delivers inbound
// messages while outbound envelopes are POSTed to an endpoint the server announces.
// The stream is established lazily on first use rather than eagerly at start.
type SSE struct {
	logger    hclog.Logger
	def       config.ServerDefinition
	client    *http.Client
	onMessage MessageHandler
	onExit    ExitHandler

	mu          sync.Mutex
	connected   bool
	connecting  chan struct{}
	closed      bool
	cancel      context.CancelFunc
	endpointURL string
	endpointCh  chan struct{}
}

// NewSSE creates an unconnected SSE connection for the definition.
func NewSSE(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler, onExit ExitHandler) *SSE {
	return &SSE{
		logger:    logger.Named("sse"),
		def:       def,
		client:    &http.Client{},
		onMessage: onMessage,
		onExit:    onExit,
	}
}

// Start is deliberately lazy: the event stream is opened by the first Send.
func (s *SSE) Start(_ context.Context) error {
	return nil
}

// Send connects on first use, then POSTs the envelope to the announced endpoint.
func (s *SSE) Send(ctx context.Context, data []byte) error {
	endpoint, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: build request for '%s': %w", errors.ErrTransport, s.def.ID, err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST to '%s': %w", errors.ErrTransport, endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: non-2xx status from '%s': %d", errors.ErrTransport, endpoint, resp.StatusCode)
	}

	return nil
}

// Close tears down the event stream.
func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.connected = false
	return nil
}

// ensureConnected opens the event stream once and waits for the server to announce
// the POST endpoint. Servers that never announce one get messages POSTed to the
// stream URL itself.
func (s *SSE) ensureConnected(ctx context.Context) (string, error) {
	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: server '%s' closed", errors.ErrTransport, s.def.ID)
		}
		if s.connected {
			endpoint := s.endpointURL
			s.mu.Unlock()
			return endpoint, nil
		}
		if s.connecting == nil {
			break
		}
		// Another Send is already opening the stream; wait for it and re-check.
		wait := s.connecting
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		s.mu.Lock()
	}

	connecting := make(chan struct{})
	s.connecting = connecting
	streamCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.endpointCh = make(chan struct{})
	s.endpointURL = s.def.URL
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = nil
		s.mu.Unlock()
		close(connecting)
	}()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.def.URL, nil)
	if err != nil {
		cancel()
		return "", fmt.Errorf("%w: build stream request for '%s': %w", errors.ErrTransport, s.def.ID, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range s.def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return "", fmt.Errorf("%w: connect event stream '%s': %w", errors.ErrTransport, s.def.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return "", fmt.Errorf("%w: non-OK status from event stream '%s': %d", errors.ErrTransport, s.def.URL, resp.StatusCode)
	}

	s.mu.Lock()
	s.connected = true
	endpointCh := s.endpointCh
	s.mu.Unlock()

	go s.readLoop(resp.Body)

	// Give the server a moment to announce its endpoint; fall back to the stream URL.
	// Waiters are released only after this resolves, so they never see the
	// placeholder endpoint.
	select {
	case <-endpointCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	s.mu.Lock()
	endpoint := s.endpointURL
	s.mu.Unlock()
	return endpoint, nil
}

// readLoop parses the SSE wire format: "event:"/"data:" lines separated by blanks.
// An "endpoint" event carries the POST URL; "message" events carry JSON-RPC payloads.
func (s *SSE) readLoop(body io.ReadCloser) {
	defer func() {
		_ = body.Close()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), stdoutBufferLimit)

	event := "message"
	var data strings.Builder
	endpointSeen := false

	flush := func() {
		payload := data.String()
		data.Reset()
		if payload == "" {
			return
		}

		kind := event
		event = "message"

		switch kind {
		case "endpoint":
			s.setEndpoint(payload)
			endpointSeen = true
		default:
			s.onMessage([]byte(payload))
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			flush()
			// The first event decides the endpoint; absent one, unblock senders anyway.
			if !endpointSeen {
				s.releaseEndpointWaiters()
				endpointSeen = true
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if !endpointSeen {
		s.releaseEndpointWaiters()
	}

	s.mu.Lock()
	wasClosed := s.closed
	s.connected = false
	s.mu.Unlock()

	if !wasClosed {
		s.logger.Warn("Event stream terminated", "server", s.def.ID)
		s.onExit(fmt.Errorf("%w: event stream terminated", errors.ErrTransport))
	}
}

// setEndpoint resolves the announced endpoint (possibly relative) against the stream URL.
func (s *SSE) setEndpoint(raw string) {
	endpoint := raw
	if base, err := url.Parse(s.def.URL); err == nil {
		if ref, err := url.Parse(raw); err == nil {
			endpoint = base.ResolveReference(ref).String()
		}
	}

	s.mu.Lock()
	s.endpointURL = endpoint
	s.mu.Unlock()
	s.releaseEndpointWaiters()

	s.logger.Debug("Server announced message endpoint", "server", s.def.ID, "endpoint", endpoint)
}

func (s *SSE) releaseEndpointWaiters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpointCh != nil {
		close(s.endpointCh)
		s.endpointCh = nil
	}
}
