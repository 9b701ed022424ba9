package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/errors"
)

// DefaultRequestTimeout is the deadline applied to a call when none is configured.
const DefaultRequestTimeout = 30 * time.Second

// SendFunc hands one serialized envelope to the transport.
type SendFunc func(data []byte) error

// NotificationHandler receives unsolicited server notifications (no id, method set).
type NotificationHandler func(method string, params json.RawMessage)

// outcome is the settled result of a pending request. Exactly one outcome is ever
// delivered per request id.
type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one in-flight call: a buffered channel for its single
// outcome and the deadline timer that may settle it.
type pendingRequest struct {
	method string
	ch     chan outcome
	timer  *time.Timer
}

// Correlator assigns monotonic request ids, tracks pending requests with a deadline,
// resolves or rejects them when a matching response arrives, and routes unsolicited
// notifications to a handler.
//
// Settlement is idempotent: a request id is removed from the pending map exactly once,
// under the correlator lock, so a late response after a timeout (or vice versa) is
// silently dropped.
type Correlator struct {
	logger  hclog.Logger
	timeout time.Duration
	send    SendFunc
	notify  NotificationHandler

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  bool
}

// NewCorrelator creates a correlator that serializes envelopes through send and
// dispatches notifications to notify. A non-positive timeout uses the default.
func NewCorrelator(logger hclog.Logger, timeout time.Duration, send SendFunc, notify NotificationHandler) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		logger:  logger.Named("correlator"),
		timeout: timeout,
		send:    send,
		notify:  notify,
		pending: make(map[int64]*pendingRequest),
	}
}

// Call sends a request and blocks until a matching response arrives, the deadline
// expires, the context is done, or the correlator is cancelled.
func (c *Correlator) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, id, pr, err := c.register(method, params)
	if err != nil {
		return nil, err
	}

	if err := c.send(data); err != nil {
		// Request never left; withdraw it so the id cannot be settled later.
		c.settle(id, outcome{err: fmt.Errorf("%w: send %s: %w", errors.ErrTransport, method, err)})
	}

	select {
	case out := <-pr.ch:
		return out.result, out.err
	case <-ctx.Done():
		// If a response won the race the settle below is a no-op and the real
		// outcome is already buffered.
		c.settle(id, outcome{err: fmt.Errorf("%w: %s: %w", errors.ErrCancelled, method, ctx.Err())})
		out := <-pr.ch
		return out.result, out.err
	}
}

// Notify sends a fire-and-forget notification; no id is assigned and no response is expected.
func (c *Correlator) Notify(method string, params any) error {
	env := Envelope{
		JSONRPC: Version,
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params for %s: %w", method, err)
		}
		env.Params = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode notification %s: %w", method, err)
	}

	if err := c.send(data); err != nil {
		return fmt.Errorf("%w: send %s: %w", errors.ErrTransport, method, err)
	}
	return nil
}

// HandleMessage consumes one complete inbound JSON-RPC message from the transport.
// Responses settle their pending request; notifications are dispatched to the handler;
// anything else is logged and dropped.
func (c *Correlator) HandleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("Dropping unparsable message", "error", err)
		return
	}

	switch {
	case env.ID != nil && env.Method == "":
		c.handleResponse(env)
	case env.ID == nil && env.Method != "":
		if c.notify != nil {
			c.notify(env.Method, env.Params)
		}
	case env.ID != nil && env.Method != "":
		// Server-to-client request (e.g. sampling). Not supported.
		c.logger.Debug("Ignoring server-to-client request", "method", env.Method, "id", *env.ID)
	default:
		c.logger.Warn("Dropping message with neither id nor method")
	}
}

// CancelAll rejects every pending request with the given error and stops accepting
// new calls. Used when the owning server stops so no timers are leaked.
func (c *Correlator) CancelAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.closed = true
	c.mu.Unlock()

	for id, pr := range pending {
		pr.timer.Stop()
		pr.ch <- outcome{err: fmt.Errorf("%w: %s (id %d)", err, pr.method, id)}
	}
}

// PendingCount reports the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// register assigns the next id, arms the deadline timer and returns the serialized envelope.
func (c *Correlator) register(method string, params any) ([]byte, int64, *pendingRequest, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to encode params for %s: %w", method, err)
		}
		raw = encoded
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, nil, fmt.Errorf("%w: correlator closed", errors.ErrCancelled)
	}

	c.nextID++
	id := c.nextID

	pr := &pendingRequest{
		method: method,
		ch:     make(chan outcome, 1),
	}
	pr.timer = time.AfterFunc(c.timeout, func() {
		c.settle(id, outcome{err: fmt.Errorf("%w: %s after %s", errors.ErrTimeout, method, c.timeout)})
	})
	c.pending[id] = pr
	c.mu.Unlock()

	env := Envelope{
		JSONRPC: Version,
		ID:      &id,
		Method:  method,
		Params:  raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.settle(id, outcome{err: err})
		return nil, 0, nil, fmt.Errorf("failed to encode request %s: %w", method, err)
	}

	return data, id, pr, nil
}

// handleResponse settles the pending request matching the response id, rejecting on a
// JSON-RPC error field. A response whose id is not pending (duplicate, late after
// timeout) is silently dropped.
func (c *Correlator) handleResponse(env Envelope) {
	out := outcome{result: env.Result}
	if env.Error != nil {
		out = outcome{err: fmt.Errorf("%w: %s", errors.ErrProtocol, env.Error.Message)}
	}

	if !c.settle(*env.ID, out) {
		c.logger.Debug("Dropping response for unknown request id", "id", *env.ID)
	}
}

// settle removes id from the pending map and delivers the outcome, returning false if
// the id was not pending. Removal under the lock makes settlement exactly-once: the
// losing path (late response or late timer) finds nothing to settle.
func (c *Correlator) settle(id int64, out outcome) bool {
	c.mu.Lock()
	pr, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	pr.timer.Stop()
	pr.ch <- out
	return true
}
