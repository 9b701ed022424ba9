// Package api declares the HTTP surface of the daemon: request/response types and
// huma route registrations, kept free of transport and lifecycle concerns.
package api

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/danielgtaylor/huma/v2"

	"github.com/agentdeck/agentdeck/internal/contracts"
)

// APIVersion is the version used in the OpenAPI spec and URL paths.
const APIVersion = "v1"

// Dependencies carries the narrow interfaces the route handlers consume.
type Dependencies struct {
	Monitor      contracts.ServerMonitor
	Capabilities contracts.CapabilityReader
	Tools        contracts.ToolCaller
	Health       contracts.HealthMonitor
	Registry     contracts.RegistryBrowser
}

// Validate ensures all handler dependencies are present.
func (d Dependencies) Validate() error {
	switch {
	case isNil(d.Monitor):
		return fmt.Errorf("server monitor cannot be nil")
	case isNil(d.Capabilities):
		return fmt.Errorf("capability reader cannot be nil")
	case isNil(d.Tools):
		return fmt.Errorf("tool caller cannot be nil")
	case isNil(d.Health):
		return fmt.Errorf("health monitor cannot be nil")
	case isNil(d.Registry):
		return fmt.Errorf("registry browser cannot be nil")
	default:
		return nil
	}
}

// RegisterRoutes registers all API routes on the provided Huma router.
// This is the single source of truth for the API route structure.
// Returns the API path prefix (e.g., "/api/v1") under which the routes are created.
func RegisterRoutes(router huma.API, deps Dependencies) (string, error) {
	if router == nil || reflect.ValueOf(router).IsNil() {
		return "", fmt.Errorf("router cannot be nil")
	}
	if err := deps.Validate(); err != nil {
		return "", err
	}

	apiPathPrefix, err := url.JoinPath("/api", APIVersion)
	if err != nil {
		return "", fmt.Errorf("failed to construct API path prefix: %w", err)
	}

	versionedGroup := huma.NewGroup(router, apiPathPrefix)
	RegisterServerRoutes(versionedGroup, deps.Monitor, "/servers")
	RegisterToolRoutes(versionedGroup, deps.Capabilities, deps.Tools)
	RegisterHealthRoutes(versionedGroup, deps.Health, "/health")
	RegisterRegistryRoutes(versionedGroup, deps.Registry, "/registry")

	return apiPathPrefix, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
