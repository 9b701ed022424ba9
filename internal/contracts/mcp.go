// Package contracts defines the narrow interfaces consumed by the daemon and API
// layers, so handlers depend on capabilities rather than on the manager itself.
package contracts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentdeck/agentdeck/internal/capability"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// ServerMonitor exposes lifecycle control and status over configured servers.
type ServerMonitor interface {
	Start(ctx context.Context, id string) error
	Stop(id string) error
	Servers() []domain.ServerView
	Server(id string) (domain.ServerView, error)
}

// CapabilityReader exposes read access to discovered capabilities.
type CapabilityReader interface {
	AllTools() []capability.ToolMatch
	SearchCapabilities(query string) capability.SearchResult
	SearchCapabilitiesCached(query string) capability.SearchResult
	RelevantTools(serverID, context string) ([]mcp.Tool, error)
}

// ToolCaller invokes operations against running servers.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, name string, args map[string]any) (json.RawMessage, error)
	ReadResource(ctx context.Context, serverID, uri string) (json.RawMessage, error)
	GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (json.RawMessage, error)
}

// HealthMonitor exposes liveness information for running servers.
type HealthMonitor interface {
	Status(serverID string) (domain.ServerHealth, error)
	List() []domain.ServerHealth
}

// Pinger round-trips a protocol-level ping to a running server.
type Pinger interface {
	Ping(ctx context.Context, serverID string) (time.Duration, error)
}

// RegistryBrowser exposes the synced server catalog.
type RegistryBrowser interface {
	Sync(ctx context.Context) error
	NeedsSync() bool
	LastSynced() time.Time
	Search(query string, filters registry.Filters) []registry.Entry
	Entry(id string) (registry.Entry, error)
	GenerateServerConfig(id string, env map[string]string) (config.ServerDefinition, error)
}
