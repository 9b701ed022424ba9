// Package errors defines domain-level errors used throughout the application.
// These errors represent failures in the MCP runtime and are mapped to appropriate
// HTTP status codes at the API boundary.
//
// NOTE: Important for developers
// When adding a new error here, you MUST consider how it should be handled when
// returned from API endpoints. Unmapped errors default to HTTP 500 Internal Server Error.
//
// Don't forget to:
// 1. Add your error to mapError (internal/daemon/api_server.go)
// 2. Add a test case to TestMapError (internal/daemon/api_server_test.go)
package errors

import (
	"errors"
)

var (
	// ErrBadRequest indicates that the client provided invalid input or made a malformed request.
	// Recommended to map to HTTP 400 Bad Request.
	ErrBadRequest = errors.New("bad request")

	// ErrConfig indicates that configuration data could not be persisted or read.
	// Missing or unparsable scope files are NOT config errors (they are treated as empty);
	// this covers genuine I/O failures such as permissions or disk errors.
	// Recommended to map to HTTP 500 Internal Server Error.
	ErrConfig = errors.New("config operation failed")

	// ErrServerNotFound indicates that the requested MCP server does not exist in any
	// configuration scope or in the runtime registry.
	// Recommended to map to HTTP 404 Not Found.
	ErrServerNotFound = errors.New("server not found")

	// ErrServerNotRunning indicates an operation that requires a running server was
	// attempted while the server was in any other state.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerNotRunning = errors.New("server not running")

	// ErrServerDisabled indicates a start was attempted on a server marked disabled in config.
	// Recommended to map to HTTP 409 Conflict.
	ErrServerDisabled = errors.New("server disabled")

	// ErrTransport indicates a spawn or connection failure talking to an MCP server.
	// The affected server enters the error state; other servers are unaffected.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrTransport = errors.New("transport failure")

	// ErrProtocol indicates a JSON-RPC level error returned by an MCP server.
	// The server stays running; the failure is surfaced to the caller only.
	// Recommended to map to HTTP 502 Bad Gateway.
	ErrProtocol = errors.New("protocol error")

	// ErrTimeout indicates a pending request exceeded its deadline.
	// Does not change server status.
	// Recommended to map to HTTP 504 Gateway Timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates an in-flight request was rejected because its server was stopped.
	// Recommended to map to HTTP 409 Conflict.
	ErrCancelled = errors.New("request cancelled")

	// ErrToolNotFound indicates that the requested tool is not known for the server.
	// Recommended to map to HTTP 404 Not Found.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolArguments indicates tool-call arguments failed schema validation before sending.
	// Recommended to map to HTTP 400 Bad Request.
	ErrToolArguments = errors.New("tool arguments invalid")

	// ErrEntryNotFound indicates that the requested registry catalog entry does not exist.
	// Recommended to map to HTTP 404 Not Found.
	ErrEntryNotFound = errors.New("registry entry not found")

	// ErrHealthNotTracked indicates that health monitoring is not enabled for the specified server.
	// Recommended to map to HTTP 404 Not Found.
	ErrHealthNotTracked = errors.New("server health is not being tracked")
)
