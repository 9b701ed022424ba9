package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentdeck/agentdeck/internal/capability"
	"github.com/agentdeck/agentdeck/internal/contracts"
)

// ToolsResponse is the response for GET /tools.
type ToolsResponse struct {
	Body struct {
		Tools []capability.ToolMatch `doc:"Tools exposed by running servers" json:"tools"`
	}
}

// SearchRequest is the incoming request for capability search.
type SearchRequest struct {
	Query  string `doc:"Case-insensitive substring to match" example:"commit" query:"q"`
	Cached bool   `doc:"Serve from the TTL result cache when possible" query:"cached"`
}

// SearchResponse is the response for GET /tools/search.
type SearchResponse struct {
	Body capability.SearchResult
}

// RelevantToolsRequest asks for tools on one server scored against a context string.
type RelevantToolsRequest struct {
	ID      string `doc:"ID of the server" example:"github" path:"id"`
	Context string `doc:"Free-text task description" example:"create a branch" query:"context"`
}

// RelevantToolsResponse is the response for GET /servers/{id}/tools/relevant.
type RelevantToolsResponse struct {
	Body struct {
		Tools []mcp.Tool `doc:"Tools ordered by relevance" json:"tools"`
	}
}

// CallToolRequest is the incoming request for invoking a tool.
type CallToolRequest struct {
	ID   string `doc:"ID of the server" example:"github" path:"id"`
	Tool string `doc:"Name of the tool" example:"create_branch" path:"tool"`
	Body struct {
		Arguments map[string]any `doc:"Tool arguments, validated against the tool's input schema" json:"arguments,omitempty"`
	}
}

// CallToolResponse carries the raw tool result.
type CallToolResponse struct {
	Body struct {
		Result json.RawMessage `doc:"Raw MCP tool result" json:"result"`
	}
}

// ReadResourceRequest is the incoming request for reading a resource.
type ReadResourceRequest struct {
	ID  string `doc:"ID of the server" example:"docs" path:"id"`
	URI string `doc:"URI of the resource" example:"file:///README.md" query:"uri" required:"true"`
}

// ReadResourceResponse carries the raw resource contents.
type ReadResourceResponse struct {
	Body struct {
		Result json.RawMessage `doc:"Raw MCP resource result" json:"result"`
	}
}

// GetPromptRequest is the incoming request for fetching a prompt.
type GetPromptRequest struct {
	ID     string `doc:"ID of the server" example:"writing" path:"id"`
	Prompt string `doc:"Name of the prompt" example:"summarize" path:"prompt"`
	Body   struct {
		Arguments map[string]string `doc:"Prompt arguments" json:"arguments,omitempty"`
	}
}

// GetPromptResponse carries the raw prompt payload.
type GetPromptResponse struct {
	Body struct {
		Result json.RawMessage `doc:"Raw MCP prompt result" json:"result"`
	}
}

// RegisterToolRoutes sets up capability query and invocation endpoint routes.
func RegisterToolRoutes(routerAPI huma.API, capabilities contracts.CapabilityReader, tools contracts.ToolCaller) {
	toolTags := []string{"Tools"}

	toolsAPI := huma.NewGroup(routerAPI, "/tools")

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Path:        "",
			Summary:     "List all tools across running servers",
			Tags:        toolTags,
		},
		func(ctx context.Context, _ *struct{}) (*ToolsResponse, error) {
			resp := &ToolsResponse{}
			resp.Body.Tools = capabilities.AllTools()
			return resp, nil
		},
	)

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "searchCapabilities",
			Method:      http.MethodGet,
			Path:        "/search",
			Summary:     "Search tools, resources and prompts across running servers",
			Tags:        toolTags,
		},
		func(ctx context.Context, input *SearchRequest) (*SearchResponse, error) {
			if input.Cached {
				return &SearchResponse{Body: capabilities.SearchCapabilitiesCached(input.Query)}, nil
			}
			return &SearchResponse{Body: capabilities.SearchCapabilities(input.Query)}, nil
		},
	)

	serversAPI := huma.NewGroup(routerAPI, "/servers")

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "relevantTools",
			Method:      http.MethodGet,
			Path:        "/{id}/tools/relevant",
			Summary:     "Rank a server's tools against a task description",
			Tags:        toolTags,
		},
		func(ctx context.Context, input *RelevantToolsRequest) (*RelevantToolsResponse, error) {
			ranked, err := capabilities.RelevantTools(input.ID, input.Context)
			if err != nil {
				return nil, err
			}
			resp := &RelevantToolsResponse{}
			resp.Body.Tools = ranked
			return resp, nil
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "callTool",
			Method:      http.MethodPost,
			Path:        "/{id}/tools/{tool}/call",
			Summary:     "Invoke a tool on a running server",
			Tags:        toolTags,
		},
		func(ctx context.Context, input *CallToolRequest) (*CallToolResponse, error) {
			result, err := tools.CallTool(ctx, input.ID, input.Tool, input.Body.Arguments)
			if err != nil {
				return nil, err
			}
			resp := &CallToolResponse{}
			resp.Body.Result = result
			return resp, nil
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "readResource",
			Method:      http.MethodGet,
			Path:        "/{id}/resources/read",
			Summary:     "Read a resource from a running server",
			Tags:        toolTags,
		},
		func(ctx context.Context, input *ReadResourceRequest) (*ReadResourceResponse, error) {
			result, err := tools.ReadResource(ctx, input.ID, input.URI)
			if err != nil {
				return nil, err
			}
			resp := &ReadResourceResponse{}
			resp.Body.Result = result
			return resp, nil
		},
	)

	huma.Register(
		serversAPI,
		huma.Operation{
			OperationID: "getPrompt",
			Method:      http.MethodPost,
			Path:        "/{id}/prompts/{prompt}",
			Summary:     "Fetch a prompt from a running server",
			Tags:        toolTags,
		},
		func(ctx context.Context, input *GetPromptRequest) (*GetPromptResponse, error) {
			result, err := tools.GetPrompt(ctx, input.ID, input.Prompt, input.Body.Arguments)
			if err != nil {
				return nil, err
			}
			resp := &GetPromptResponse{}
			resp.Body.Result = result
			return resp, nil
		},
	)
}
