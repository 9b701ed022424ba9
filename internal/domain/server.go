// Package domain holds types shared between the manager, daemon and API layers.
package domain

const (
	// StatusStopped means the server has no live transport handle.
	StatusStopped Status = "stopped"

	// StatusStarting means a transport is being opened and initialize is in flight.
	StatusStarting Status = "starting"

	// StatusRunning means initialize completed and the server is queryable/callable.
	StatusRunning Status = "running"

	// StatusError means the transport failed; LastError carries the reason.
	StatusError Status = "error"
)

// Status is the lifecycle state of a configured MCP server.
type Status string

// ServerView is a read-only snapshot of a server instance, safe to poll from a UI layer.
type ServerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Scope     string `json:"scope"`
	Transport string `json:"transport"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
	Tools     int    `json:"tools"`
	Resources int    `json:"resources"`
	Prompts   int    `json:"prompts"`
}
