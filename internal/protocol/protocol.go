// Package protocol implements the JSON-RPC 2.0 envelope used by the Model Context
// Protocol and the correlator that matches asynchronous responses to requests.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the JSON-RPC version string carried by every envelope.
const Version = "2.0"

// ProtocolVersion is the MCP protocol revision announced during initialize.
const ProtocolVersion = "2024-11-05"

// Request method names.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodListPrompts   = "prompts/list"
	MethodGetPrompt     = "prompts/get"
)

// Notification method names.
const (
	NotificationInitialized          = "notifications/initialized"
	NotificationMessage              = "notifications/message"
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"

	// listChangedSuffix identifies capability-refresh notifications regardless of kind.
	listChangedSuffix = "/list_changed"
)

// Envelope is a single JSON-RPC 2.0 message: request, response or notification.
// Outbound requests carry ID+Method+Params; notifications carry Method only;
// inbound responses carry ID plus Result or Error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object returned by a server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// InitializeParams is the client half of the MCP initialize handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

// InitializeResult is the server half of the MCP initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    json.RawMessage    `json:"capabilities,omitempty"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

// ListResourcesResult is the payload of a resources/list response.
type ListResourcesResult struct {
	Resources []mcp.Resource `json:"resources"`
}

// ListPromptsResult is the payload of a prompts/list response.
type ListPromptsResult struct {
	Prompts []mcp.Prompt `json:"prompts"`
}

// CallToolParams is the request payload for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ReadResourceParams is the request payload for resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams is the request payload for prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// IsListChanged reports whether a notification method announces a capability change,
// returning the list method to re-run for that capability kind.
func IsListChanged(method string) (string, bool) {
	if !strings.HasSuffix(method, listChangedSuffix) {
		return "", false
	}

	switch method {
	case NotificationToolsListChanged:
		return MethodListTools, true
	case NotificationResourcesListChanged:
		return MethodListResources, true
	case NotificationPromptsListChanged:
		return MethodListPrompts, true
	default:
		return "", false
	}
}
