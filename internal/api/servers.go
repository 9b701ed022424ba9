package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/agentdeck/agentdeck/internal/contracts"
	"github.com/agentdeck/agentdeck/internal/domain"
)

// ServersResponse is the response for GET /servers.
type ServersResponse struct {
	Body struct {
		Servers []domain.ServerView `doc:"Configured MCP servers" json:"servers"`
	}
}

// ServerRequest identifies one server by id.
type ServerRequest struct {
	ID string `doc:"ID of the server" example:"github" path:"id"`
}

// ServerResponse is the response for GET /servers/{id}.
type ServerResponse struct {
	Body domain.ServerView
}

// ServerLifecycleResponse is the response for start/stop operations.
type ServerLifecycleResponse struct {
	Body struct {
		ID     string        `doc:"ID of the server" json:"id"`
		Status domain.Status `doc:"Lifecycle status after the operation" json:"status"`
	}
}

// RegisterServerRoutes sets up server lifecycle and status endpoint routes.
func RegisterServerRoutes(routerAPI huma.API, monitor contracts.ServerMonitor, apiPathPrefix string) {
	serverAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Servers"}

	huma.Register(
		serverAPI,
		huma.Operation{
			OperationID: "listServers",
			Method:      http.MethodGet,
			Path:        "",
			Summary:     "List all configured servers",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ServersResponse, error) {
			resp := &ServersResponse{}
			resp.Body.Servers = monitor.Servers()
			return resp, nil
		},
	)

	huma.Register(
		serverAPI,
		huma.Operation{
			OperationID: "getServer",
			Method:      http.MethodGet,
			Path:        "/{id}",
			Summary:     "Get one server's status",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerResponse, error) {
			view, err := monitor.Server(input.ID)
			if err != nil {
				return nil, err
			}
			return &ServerResponse{Body: view}, nil
		},
	)

	huma.Register(
		serverAPI,
		huma.Operation{
			OperationID: "startServer",
			Method:      http.MethodPost,
			Path:        "/{id}/start",
			Summary:     "Start a configured server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerLifecycleResponse, error) {
			if err := monitor.Start(ctx, input.ID); err != nil {
				return nil, err
			}
			return lifecycleResponse(monitor, input.ID)
		},
	)

	huma.Register(
		serverAPI,
		huma.Operation{
			OperationID: "stopServer",
			Method:      http.MethodPost,
			Path:        "/{id}/stop",
			Summary:     "Stop a running server",
			Tags:        tags,
		},
		func(ctx context.Context, input *ServerRequest) (*ServerLifecycleResponse, error) {
			if err := monitor.Stop(input.ID); err != nil {
				return nil, err
			}
			return lifecycleResponse(monitor, input.ID)
		},
	)
}

func lifecycleResponse(monitor contracts.ServerMonitor, id string) (*ServerLifecycleResponse, error) {
	view, err := monitor.Server(id)
	if err != nil {
		return nil, err
	}

	resp := &ServerLifecycleResponse{}
	resp.Body.ID = view.ID
	resp.Body.Status = view.Status
	return resp, nil
}
