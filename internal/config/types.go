package config

import (
	"fmt"
	"strings"
)

const (
	// ScopeUser is the user-global scope, lowest precedence.
	ScopeUser Scope = "user"

	// ScopeProject is the project-shared scope, committed alongside the code.
	ScopeProject Scope = "project"

	// ScopeLocal is the machine-local, uncommitted scope, highest precedence.
	ScopeLocal Scope = "local"
)

const (
	TransportStdio     Transport = "stdio"
	TransportHTTP      Transport = "http"
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// Scope identifies one of the three configuration tiers.
// Reads merge with precedence user < project < local (local wins).
type Scope string

// Transport identifies the channel type used to reach a server.
type Transport string

// readOrder is the scope lookup order for single-id reads and removals: first hit wins.
var readOrder = []Scope{ScopeLocal, ScopeProject, ScopeUser}

// mergeOrder is the order scopes are merged in getAll: later scopes overwrite earlier ones.
var mergeOrder = []Scope{ScopeUser, ScopeProject, ScopeLocal}

// OAuthConfig declares that a server requires an OAuth authorization step before use.
// Only the callback-listener shape is implemented here; token exchange happens elsewhere.
type OAuthConfig struct {
	Provider     string   `json:"provider,omitempty"`
	CallbackPort int      `json:"callbackPort,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ServerDefinition is one configured MCP server.
// The same id may exist in multiple scopes simultaneously; only one wins per read.
type ServerDefinition struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Scope     Scope             `json:"scope,omitempty"`
	Transport Transport         `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
	OAuth     *OAuthConfig      `json:"oauth,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// scopeFile is the on-disk shape of a single scope's config file.
// A missing or unparsable file is treated as an empty scopeFile, never a fatal error.
type scopeFile struct {
	MCPServers map[string]ServerDefinition `json:"mcpServers"`
	Settings   map[string]any              `json:"settings,omitempty"`
}

// Validate checks that a definition is complete enough to be persisted and started.
func (d ServerDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("server definition has empty id")
	}

	switch d.Transport {
	case TransportStdio:
		if strings.TrimSpace(d.Command) == "" {
			return fmt.Errorf("server '%s': stdio transport requires a command", d.ID)
		}
	case TransportHTTP, TransportSSE, TransportWebSocket:
		if strings.TrimSpace(d.URL) == "" {
			return fmt.Errorf("server '%s': %s transport requires a url", d.ID, d.Transport)
		}
	default:
		return fmt.Errorf("server '%s': unknown transport '%s'", d.ID, d.Transport)
	}

	if d.Scope != "" && !d.Scope.Valid() {
		return fmt.Errorf("server '%s': unknown scope '%s'", d.ID, d.Scope)
	}

	return nil
}

// Valid reports whether the transport is one this runtime can speak.
func (t Transport) Valid() bool {
	switch t {
	case TransportStdio, TransportHTTP, TransportSSE, TransportWebSocket:
		return true
	default:
		return false
	}
}

// Valid reports whether the scope is one of the three known tiers.
func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeProject, ScopeLocal:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-facing name, falling back to the id.
func (d ServerDefinition) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.ID
}
