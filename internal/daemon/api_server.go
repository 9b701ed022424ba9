package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/cmd"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/contracts"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// defaultShutdownTimeout bounds graceful API shutdown when settings omit one.
const defaultShutdownTimeout = 20 * time.Second

// APIDependencies carries everything the API server needs to operate.
type APIDependencies struct {
	Logger        hclog.Logger
	Monitor       contracts.ServerMonitor
	Capabilities  contracts.CapabilityReader
	Tools         contracts.ToolCaller
	HealthTracker contracts.HealthMonitor
	Registry      contracts.RegistryBrowser
	Addr          string
}

// Validate ensures all required dependencies are present.
func (d APIDependencies) Validate() error {
	switch {
	case d.Logger == nil:
		return fmt.Errorf("logger is required")
	case d.Monitor == nil:
		return fmt.Errorf("server monitor is required")
	case d.Capabilities == nil:
		return fmt.Errorf("capability reader is required")
	case d.Tools == nil:
		return fmt.Errorf("tool caller is required")
	case d.HealthTracker == nil:
		return fmt.Errorf("health tracker is required")
	case d.Registry == nil:
		return fmt.Errorf("registry browser is required")
	case strings.TrimSpace(d.Addr) == "":
		return fmt.Errorf("listen address is required")
	default:
		return nil
	}
}

// APIServer manages the HTTP API for the daemon.
// NewAPIServer should be used to create instances of APIServer.
type APIServer struct {
	logger          hclog.Logger
	deps            APIDependencies
	cors            config.CORSSettings
	shutdownTimeout time.Duration
}

// NewAPIServer creates the API server from its dependencies and CORS/shutdown settings.
func NewAPIServer(deps APIDependencies, corsSettings config.CORSSettings, shutdownTimeout time.Duration) (*APIServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for API server: %w", err)
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &APIServer{
		logger:          deps.Logger.Named("api"),
		deps:            deps,
		cors:            corsSettings,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Start starts the API server and blocks until the context is canceled or an error occurs.
func (a *APIServer) Start(ctx context.Context) error {
	mux := chi.NewMux()
	mux.Use(middleware.StripSlashes)

	if a.cors.Enabled {
		a.applyCORS(mux)
	}

	mux.Handle("/metrics", promhttp.Handler())

	router := humachi.New(mux, huma.DefaultConfig("agentdeck docs", cmd.Version()))

	// Configure the error handling wrapping.
	huma.NewErrorWithContext = errorHandler(a.logger)

	apiPathPrefix, err := api.RegisterRoutes(router, api.Dependencies{
		Monitor:      a.deps.Monitor,
		Capabilities: a.deps.Capabilities,
		Tools:        a.deps.Tools,
		Health:       a.deps.HealthTracker,
		Registry:     a.deps.Registry,
	})
	if err != nil {
		return fmt.Errorf("register API routes: %w", err)
	}

	srv := &http.Server{
		Addr:    a.deps.Addr,
		Handler: mux,
	}
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("Starting API server", "address", a.deps.Addr, "prefix", apiPathPrefix)
		if err := srv.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down API server...")
		_ = srv.Shutdown(shutdownCtx)
		a.logger.Info("Shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// applyCORS applies CORS middleware to the router based on the configured options.
func (a *APIServer) applyCORS(mux *chi.Mux) {
	a.logger.Info("Enabling CORS", "origins", a.cors.AllowOrigins)

	corsOptions := cors.Options{
		AllowedOrigins: a.cors.AllowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}

	// Wildcard origins cannot be combined with credentials.
	for i, origin := range corsOptions.AllowedOrigins {
		if origin == "*" {
			corsOptions.AllowedOrigins = []string{"*"}
			corsOptions.AllowCredentials = false
			break
		}
		corsOptions.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	mux.Use(cors.Handler(corsOptions))
}

// mapError maps application domain errors to appropriate HTTP status codes.
//
// This function is the central place where domain errors from internal/errors are
// converted to HTTP responses. When adding new errors to internal/errors/errors.go,
// add them here too so they don't fall through to the default 500 case.
//
// Mapping guidelines:
//   - 400: Client errors (bad input, invalid arguments)
//   - 404: Resource not found errors
//   - 409: Operations invalid in the server's current state
//   - 502: Upstream MCP server failures
//   - 504: Upstream timeouts
//   - 500: Unexpected internal errors (default case)
func mapError(logger hclog.Logger, err error) huma.StatusError {
	switch {
	case stdErrors.Is(err, errors.ErrBadRequest):
		return huma.Error400BadRequest(err.Error())
	case stdErrors.Is(err, errors.ErrConfig):
		return huma.Error400BadRequest(err.Error())
	case stdErrors.Is(err, errors.ErrToolArguments):
		return huma.Error400BadRequest(err.Error())
	case stdErrors.Is(err, errors.ErrServerNotFound):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrToolNotFound):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrEntryNotFound):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrHealthNotTracked):
		return huma.Error404NotFound(err.Error())
	case stdErrors.Is(err, errors.ErrServerDisabled):
		return huma.Error409Conflict(err.Error())
	case stdErrors.Is(err, errors.ErrServerNotRunning):
		return huma.Error409Conflict(err.Error())
	case stdErrors.Is(err, errors.ErrTimeout):
		logger.Error("Upstream timeout", "error", err)
		return huma.Error504GatewayTimeout(err.Error())
	case stdErrors.Is(err, errors.ErrTransport):
		logger.Error("Transport failure", "error", err)
		return huma.Error502BadGateway("MCP server transport failure", err)
	case stdErrors.Is(err, errors.ErrProtocol):
		logger.Error("Protocol failure", "error", err)
		return huma.Error502BadGateway("MCP server protocol failure", err)
	default:
		logger.Error("Unexpected error interacting with MCP server", "error", err)
		return huma.Error500InternalServerError("Internal server error", err)
	}
}

// errorHandler wraps error handling for the application when converting to API friendly errors.
// It allows the logger to be supplied to functions that resolve huma.StatusError,
// and it supports different behaviors based on the variadic errors parameter.
func errorHandler(logger hclog.Logger) func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
	return func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		switch len(errs) {
		case 0:
			return huma.NewError(status, msg)
		case 1:
			return mapError(logger, errs[0])
		default:
			return mapError(logger, stdErrors.Join(errs...))
		}
	}
}
