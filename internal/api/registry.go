package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/contracts"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// RegistrySearchRequest is the incoming request for catalog search.
type RegistrySearchRequest struct {
	Query     string `doc:"Case-insensitive substring to match" example:"github" query:"q"`
	Category  string `doc:"Restrict to one category" example:"git" query:"category"`
	Transport string `doc:"Restrict to entries supporting a transport" example:"stdio" query:"transport"`
	Tag       string `doc:"Restrict to entries carrying a tag" example:"official" query:"tag"`
}

// RegistrySearchResponse is the response for GET /registry/search.
type RegistrySearchResponse struct {
	Body struct {
		Entries []registry.Entry `doc:"Matching catalog entries, most popular first" json:"entries"`
	}
}

// RegistryEntryRequest identifies one catalog entry.
type RegistryEntryRequest struct {
	ID string `doc:"ID of the catalog entry" example:"github-mcp" path:"id"`
}

// RegistryEntryResponse is the response for GET /registry/servers/{id}.
type RegistryEntryResponse struct {
	Body registry.Entry
}

// RegistrySyncResponse is the response for POST /registry/sync.
type RegistrySyncResponse struct {
	Body struct {
		Synced     bool      `doc:"Whether a sync was performed" json:"synced"`
		LastSynced time.Time `doc:"When the snapshot was last refreshed" json:"last_synced"`
	}
}

// GenerateConfigRequest asks for a runnable definition derived from a catalog entry.
type GenerateConfigRequest struct {
	ID   string `doc:"ID of the catalog entry" example:"github-mcp" path:"id"`
	Body struct {
		Env map[string]string `doc:"Values for environment variables the entry declares" json:"env,omitempty"`
	}
}

// GenerateConfigResponse carries the generated server definition.
type GenerateConfigResponse struct {
	Body config.ServerDefinition
}

// RegisterRegistryRoutes sets up catalog query and sync endpoint routes.
func RegisterRegistryRoutes(routerAPI huma.API, browser contracts.RegistryBrowser, apiPathPrefix string) {
	registryAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Registry"}

	huma.Register(
		registryAPI,
		huma.Operation{
			OperationID: "searchRegistry",
			Method:      http.MethodGet,
			Path:        "/search",
			Summary:     "Search the server catalog",
			Tags:        tags,
		},
		func(ctx context.Context, input *RegistrySearchRequest) (*RegistrySearchResponse, error) {
			resp := &RegistrySearchResponse{}
			resp.Body.Entries = browser.Search(input.Query, registry.Filters{
				Category:  input.Category,
				Transport: input.Transport,
				Tag:       input.Tag,
			})
			return resp, nil
		},
	)

	huma.Register(
		registryAPI,
		huma.Operation{
			OperationID: "getRegistryEntry",
			Method:      http.MethodGet,
			Path:        "/servers/{id}",
			Summary:     "Get one catalog entry",
			Tags:        tags,
		},
		func(ctx context.Context, input *RegistryEntryRequest) (*RegistryEntryResponse, error) {
			entry, err := browser.Entry(input.ID)
			if err != nil {
				return nil, err
			}
			return &RegistryEntryResponse{Body: entry}, nil
		},
	)

	huma.Register(
		registryAPI,
		huma.Operation{
			OperationID: "syncRegistry",
			Method:      http.MethodPost,
			Path:        "/sync",
			Summary:     "Refresh the catalog snapshot if stale",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*RegistrySyncResponse, error) {
			resp := &RegistrySyncResponse{}
			if browser.NeedsSync() {
				if err := browser.Sync(ctx); err != nil {
					return nil, err
				}
				resp.Body.Synced = true
			}
			resp.Body.LastSynced = browser.LastSynced()
			return resp, nil
		},
	)

	huma.Register(
		registryAPI,
		huma.Operation{
			OperationID: "generateServerConfig",
			Method:      http.MethodPost,
			Path:        "/servers/{id}/config",
			Summary:     "Generate a runnable server definition from a catalog entry",
			Tags:        tags,
		},
		func(ctx context.Context, input *GenerateConfigRequest) (*GenerateConfigResponse, error) {
			def, err := browser.GenerateServerConfig(input.ID, input.Body.Env)
			if err != nil {
				return nil, err
			}
			return &GenerateConfigResponse{Body: def}, nil
		},
	)
}
