// Package transport provides the channel variants used to reach MCP servers:
// a local subprocess over standard streams, stateless HTTP, lazily-connected SSE,
// and WebSocket. All variants share the same send/inbound-callback contract so the
// orchestrator never branches on transport kind outside of connection setup.
package transport

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// MessageHandler consumes one complete inbound JSON-RPC message.
// It is invoked from the transport's read loop; implementations must not block.
type MessageHandler func(data []byte)

// ExitHandler is invoked once when the underlying process or stream terminates on its
// own. A nil error is a clean exit. It is not invoked after an explicit Close.
type ExitHandler func(err error)

// Connection is one open channel to an MCP server.
type Connection interface {
	// Start opens the channel: spawns the process or establishes the connection.
	// SSE defers connecting until the first Send.
	Start(ctx context.Context) error

	// Send writes one serialized JSON-RPC envelope.
	Send(ctx context.Context, data []byte) error

	// Close tears the channel down. Idempotent; suppresses the ExitHandler.
	Close() error
}

// Factory builds a Connection for a server definition. The manager uses the default
// factory; tests substitute their own.
type Factory func(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler, onExit ExitHandler) (Connection, error)

// New is the default Factory, dispatching on the definition's transport kind.
func New(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler, onExit ExitHandler) (Connection, error) {
	switch def.Transport {
	case config.TransportStdio:
		return NewStdio(logger, def, onMessage, onExit), nil
	case config.TransportHTTP:
		return NewHTTP(logger, def, onMessage), nil
	case config.TransportSSE:
		return NewSSE(logger, def, onMessage, onExit), nil
	case config.TransportWebSocket:
		return NewWebSocket(logger, def, onMessage, onExit), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport '%s' for server '%s'", errors.ErrTransport, def.Transport, def.ID)
	}
}

// mergedEnviron returns the current process environment with the definition's
// variables layered on top.
func mergedEnviron(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	return merged
}
