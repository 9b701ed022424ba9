// Package manager orchestrates the lifecycle of configured MCP servers: starting
// transports, running the initialize handshake, discovering capabilities, routing
// tool/resource/prompt operations, and reacting to capability-change notifications.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/capability"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/errors"
	"github.com/agentdeck/agentdeck/internal/metrics"
	"github.com/agentdeck/agentdeck/internal/oauth"
	"github.com/agentdeck/agentdeck/internal/protocol"
	"github.com/agentdeck/agentdeck/internal/transport"
)

// clientName identifies this runtime in the initialize handshake.
const clientName = "agentdeck"

// clientVersion is announced to servers during initialize.
const clientVersion = "0.1.0"

// startAllConcurrency bounds how many servers start in parallel.
const startAllConcurrency = 8

// Manager owns every server instance. It is safe for concurrent use.
// New should be used to create instances of Manager.
type Manager struct {
	logger   hclog.Logger
	store    *config.Store
	index    *capability.Index
	settings config.Settings
	factory  transport.Factory
	flow     *oauth.Flow
	events   *eventBus

	mu        sync.Mutex
	instances map[string]*instance
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTransportFactory substitutes how connections are built; used by tests.
func WithTransportFactory(factory transport.Factory) ManagerOption {
	return func(m *Manager) {
		if factory != nil {
			m.factory = factory
		}
	}
}

// WithOAuthFlow substitutes the OAuth callback flow; used by tests.
func WithOAuthFlow(flow *oauth.Flow) ManagerOption {
	return func(m *Manager) {
		if flow != nil {
			m.flow = flow
		}
	}
}

// New creates a Manager over the given config store and capability index.
func New(logger hclog.Logger, store *config.Store, index *capability.Index, settings config.Settings, opt ...ManagerOption) *Manager {
	m := &Manager{
		logger:    logger.Named("manager"),
		store:     store,
		index:     index,
		settings:  settings,
		factory:   transport.New,
		events:    newEventBus(),
		instances: make(map[string]*instance),
	}
	m.flow = oauth.NewFlow(
		m.logger,
		oauth.WithPort(settings.OAuth.CallbackPort),
		oauth.WithTimeout(time.Duration(settings.OAuth.Timeout)),
	)
	for _, o := range opt {
		o(m)
	}
	return m
}

// Subscribe returns a channel of lifecycle events and a cancel func.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// StartAll starts every enabled configured server in parallel. Individual failures
// are recorded on the instance and logged, never propagated: one broken server must
// not keep the rest down.
func (m *Manager) StartAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(startAllConcurrency)

	for id, def := range m.store.All() {
		if def.Disabled {
			m.logger.Debug("Skipping disabled server", "server", id)
			continue
		}

		g.Go(func() error {
			if err := m.Start(ctx, id); err != nil {
				m.logger.Error("Failed to start server", "server", id, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
}

// Start brings one server up: transport, initialize handshake, initialized
// notification, then capability discovery. Starting an already-running server
// is a no-op; starting a disabled one is an error.
func (m *Manager) Start(ctx context.Context, id string) error {
	def, ok := m.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: server '%s'", errors.ErrServerNotFound, id)
	}
	if def.Disabled {
		return fmt.Errorf("%w: server '%s'", errors.ErrServerDisabled, id)
	}

	inst, gen, fresh := m.claim(def)
	if !fresh {
		return nil
	}

	if err := m.connect(ctx, inst, gen); err != nil {
		metrics.ServerStarts.WithLabelValues(id, metrics.OutcomeError).Inc()
		return err
	}

	metrics.ServerStarts.WithLabelValues(id, metrics.OutcomeOK).Inc()
	m.discover(ctx, inst)
	m.events.publish(id, EventServerStarted, nil)

	return nil
}

// Stop tears one server down. Stopping a stopped or unknown server is a no-op.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	conn, corr := inst.teardown(domain.StatusStopped, nil)
	if conn == nil && corr == nil {
		return nil
	}

	if corr != nil {
		corr.CancelAll(errors.ErrCancelled)
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Warn("Error closing transport", "server", id, "error", err)
		}
	}

	m.index.Clear(id)
	m.index.InvalidateSearchCache()
	m.events.publish(id, EventServerStopped, nil)
	m.logger.Info("Server stopped", "server", id)

	return nil
}

// StopAll stops every live server; used during daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// CallTool invokes a tool on a running server, pre-validating the arguments
// against the tool's declared input schema before anything goes on the wire.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args map[string]any) (json.RawMessage, error) {
	corr, err := m.runningCorrelator(serverID)
	if err != nil {
		return nil, err
	}

	tool, ok := m.index.Tool(serverID, name)
	if !ok {
		return nil, fmt.Errorf("%w: tool '%s' on server '%s'", errors.ErrToolNotFound, name, serverID)
	}

	if err := validateToolArgs(tool, args); err != nil {
		metrics.ToolCalls.WithLabelValues(serverID, metrics.OutcomeError).Inc()
		return nil, err
	}

	result, err := corr.Call(ctx, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		metrics.ToolCalls.WithLabelValues(serverID, metrics.OutcomeError).Inc()
		return nil, err
	}

	metrics.ToolCalls.WithLabelValues(serverID, metrics.OutcomeOK).Inc()
	return result, nil
}

// ReadResource reads one resource by URI from a running server.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (json.RawMessage, error) {
	corr, err := m.runningCorrelator(serverID)
	if err != nil {
		return nil, err
	}
	return corr.Call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri})
}

// GetPrompt fetches one prompt by name from a running server.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (json.RawMessage, error) {
	corr, err := m.runningCorrelator(serverID)
	if err != nil {
		return nil, err
	}
	return corr.Call(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: args})
}

// Ping round-trips an MCP ping and reports the latency.
func (m *Manager) Ping(ctx context.Context, serverID string) (time.Duration, error) {
	corr, err := m.runningCorrelator(serverID)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	if _, err := corr.Call(ctx, protocol.MethodPing, nil); err != nil {
		return 0, err
	}
	return time.Since(started), nil
}

// Authenticate runs the OAuth callback flow for a server whose definition declares one.
func (m *Manager) Authenticate(ctx context.Context, serverID string) (bool, error) {
	def, ok := m.store.Get(serverID)
	if !ok {
		return false, fmt.Errorf("%w: server '%s'", errors.ErrServerNotFound, serverID)
	}
	if def.OAuth == nil {
		return false, fmt.Errorf("%w: server '%s' has no oauth configuration", errors.ErrBadRequest, serverID)
	}
	return m.flow.Authenticate(ctx, serverID)
}

// Servers snapshots every configured server, live or not, sorted by id.
func (m *Manager) Servers() []domain.ServerView {
	defs := m.store.All()

	m.mu.Lock()
	instances := make(map[string]*instance, len(m.instances))
	for id, inst := range m.instances {
		instances[id] = inst
	}
	m.mu.Unlock()

	views := make([]domain.ServerView, 0, len(defs))
	for id, def := range defs {
		tools, resources, prompts := m.index.Counts(id)
		if inst, ok := instances[id]; ok {
			views = append(views, inst.view(tools, resources, prompts))
			continue
		}
		views = append(views, domain.ServerView{
			ID:        def.ID,
			Name:      def.Name,
			Scope:     string(def.Scope),
			Transport: string(def.Transport),
			Status:    domain.StatusStopped,
			Disabled:  def.Disabled,
		})
	}

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Server snapshots one configured server.
func (m *Manager) Server(id string) (domain.ServerView, error) {
	def, ok := m.store.Get(id)
	if !ok {
		return domain.ServerView{}, fmt.Errorf("%w: server '%s'", errors.ErrServerNotFound, id)
	}

	m.mu.Lock()
	inst, live := m.instances[id]
	m.mu.Unlock()

	tools, resources, prompts := m.index.Counts(id)
	if live {
		return inst.view(tools, resources, prompts), nil
	}
	return domain.ServerView{
		ID:        def.ID,
		Name:      def.Name,
		Scope:     string(def.Scope),
		Transport: string(def.Transport),
		Status:    domain.StatusStopped,
		Disabled:  def.Disabled,
	}, nil
}

// AllTools lists every tool exposed by running servers, grouped in server-id order.
func (m *Manager) AllTools() []capability.ToolMatch {
	return m.index.Search("", m.runningIDs()).Tools
}

// SearchCapabilities searches running servers' capabilities, bypassing the cache.
func (m *Manager) SearchCapabilities(query string) capability.SearchResult {
	return m.index.Search(query, m.runningIDs())
}

// SearchCapabilitiesCached is SearchCapabilities behind the TTL result cache.
func (m *Manager) SearchCapabilitiesCached(query string) capability.SearchResult {
	return m.index.SearchCached(query, m.runningIDs())
}

// RelevantTools scores one running server's tools against a free-text context.
func (m *Manager) RelevantTools(serverID, context string) ([]mcp.Tool, error) {
	if _, err := m.runningCorrelator(serverID); err != nil {
		return nil, err
	}
	return m.index.RelevantTools(serverID, context), nil
}

// claim registers (or revives) the instance for def and marks it starting.
// Returns fresh=false when the server is already starting or running. The
// returned generation lets the caller detect a teardown racing the startup.
func (m *Manager) claim(def config.ServerDefinition) (*instance, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[def.ID]
	if !ok {
		inst = newInstance(def)
		m.instances[def.ID] = inst
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch inst.status {
	case domain.StatusStarting, domain.StatusRunning:
		return inst, inst.gen, false
	default:
		inst.def = def
		inst.status = domain.StatusStarting
		inst.lastErr = nil
		return inst, inst.gen, true
	}
}

// connect opens the transport and completes the MCP handshake. gen is the
// instance generation observed at claim time; a Stop landing mid-handshake bumps
// it, in which case the startup unwinds instead of resurrecting the server.
func (m *Manager) connect(ctx context.Context, inst *instance, gen uint64) error {
	id := inst.def.ID

	corr := protocol.NewCorrelator(
		m.logger.With("server", id),
		time.Duration(m.settings.RequestTimeout),
		func(data []byte) error {
			inst.mu.Lock()
			conn := inst.conn
			inst.mu.Unlock()
			if conn == nil {
				return fmt.Errorf("%w: server '%s' has no live transport", errors.ErrTransport, id)
			}
			return conn.Send(context.Background(), data)
		},
		func(method string, params json.RawMessage) {
			m.handleNotification(id, method, params)
		},
	)

	conn, err := m.factory(
		m.logger.With("server", id),
		inst.def,
		corr.HandleMessage,
		func(exitErr error) { m.onTransportExit(id, exitErr) },
	)
	if err != nil {
		m.closeInstance(inst, gen, err)
		return err
	}

	inst.mu.Lock()
	inst.conn = conn
	inst.corr = corr
	inst.mu.Unlock()

	if err := conn.Start(ctx); err != nil {
		m.closeInstance(inst, gen, err)
		return err
	}

	initResult, err := corr.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      mcp.Implementation{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		m.closeInstance(inst, gen, err)
		return fmt.Errorf("initialize server '%s': %w", id, err)
	}

	var init protocol.InitializeResult
	if err := json.Unmarshal(initResult, &init); err != nil {
		err = fmt.Errorf("%w: malformed initialize result from '%s': %w", errors.ErrProtocol, id, err)
		m.closeInstance(inst, gen, err)
		return err
	}

	if err := corr.Notify(protocol.NotificationInitialized, nil); err != nil {
		m.closeInstance(inst, gen, err)
		return fmt.Errorf("send initialized to '%s': %w", id, err)
	}

	if !inst.completeStart(gen, init.ServerInfo) {
		// A Stop overtook the handshake; unwind rather than resurrect.
		corr.CancelAll(errors.ErrCancelled)
		_ = conn.Close()
		return fmt.Errorf("%w: server '%s' stopped during startup", errors.ErrCancelled, id)
	}

	m.logger.Info("Server running",
		"server", id,
		"name", init.ServerInfo.Name,
		"version", init.ServerInfo.Version,
		"protocol", init.ProtocolVersion,
	)

	return nil
}

// closeInstance tears down a half-started instance after a handshake failure.
// Generation-guarded: if a Stop already tore the instance down, its status stands.
func (m *Manager) closeInstance(inst *instance, gen uint64, cause error) {
	conn, corr := inst.teardownGen(gen, domain.StatusError, cause)
	if corr != nil {
		corr.CancelAll(errors.ErrCancelled)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// onTransportExit handles a transport dying on its own (process crash, stream drop).
func (m *Manager) onTransportExit(id string, exitErr error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	status := domain.StatusStopped
	if exitErr != nil {
		status = domain.StatusError
		metrics.TransportErrors.WithLabelValues(id).Inc()
	}

	conn, corr := inst.teardown(status, exitErr)
	_ = conn // the transport already terminated; nothing to close

	if corr != nil {
		corr.CancelAll(errors.ErrCancelled)
	}

	m.index.Clear(id)
	m.index.InvalidateSearchCache()

	if exitErr != nil {
		m.logger.Error("Server transport terminated", "server", id, "error", exitErr)
		m.events.publish(id, EventServerError, map[string]any{"error": exitErr.Error()})
	} else {
		m.logger.Info("Server exited cleanly", "server", id)
		m.events.publish(id, EventServerStopped, nil)
	}
}

// handleNotification routes unsolicited server notifications: list_changed kinds
// trigger a targeted re-discovery, log messages are surfaced as events.
func (m *Manager) handleNotification(id, method string, params json.RawMessage) {
	if listMethod, ok := protocol.IsListChanged(method); ok {
		go m.rediscover(id, listMethod)
		return
	}

	if method == protocol.NotificationMessage {
		m.logger.Debug("Server log message", "server", id, "params", string(params))
		payload := map[string]any{}
		if len(params) > 0 {
			payload["message"] = json.RawMessage(params)
		}
		m.events.publish(id, EventServerMessage, payload)
		return
	}

	m.logger.Debug("Ignoring notification", "server", id, "method", method)
}

// discover runs the three capability list calls after startup. Each is independently
// fault-tolerant: a server without prompts support still gets its tools indexed.
func (m *Manager) discover(ctx context.Context, inst *instance) {
	inst.discoverMu.Lock()
	defer inst.discoverMu.Unlock()

	id := inst.def.ID
	_, corr, ok := inst.handles()
	if !ok {
		return
	}

	m.fetchList(ctx, corr, id, protocol.MethodListTools)
	m.fetchList(ctx, corr, id, protocol.MethodListResources)
	m.fetchList(ctx, corr, id, protocol.MethodListPrompts)

	m.index.InvalidateSearchCache()

	tools, resources, prompts := m.index.Counts(id)
	m.logger.Info("Capabilities discovered", "server", id, "tools", tools, "resources", resources, "prompts", prompts)
	m.events.publish(id, EventCapabilitiesUpdated, map[string]any{
		"tools": tools, "resources": resources, "prompts": prompts,
	})
}

// rediscover refreshes a single capability kind in response to a list_changed
// notification. Serialized per instance so bursts of notifications cannot
// interleave index writes.
func (m *Manager) rediscover(id, listMethod string) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	inst.discoverMu.Lock()
	defer inst.discoverMu.Unlock()

	_, corr, running := inst.handles()
	if !running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.settings.RequestTimeout))
	defer cancel()

	m.fetchList(ctx, corr, id, listMethod)
	m.index.InvalidateSearchCache()

	tools, resources, prompts := m.index.Counts(id)
	m.events.publish(id, EventCapabilitiesUpdated, map[string]any{
		"tools": tools, "resources": resources, "prompts": prompts,
	})
}

// fetchList runs one capability list call and stores the result in the index.
// Errors are logged, not propagated.
func (m *Manager) fetchList(ctx context.Context, corr *protocol.Correlator, id, method string) {
	raw, err := corr.Call(ctx, method, nil)
	if err != nil {
		m.logger.Warn("Capability list failed", "server", id, "method", method, "error", err)
		return
	}

	switch method {
	case protocol.MethodListTools:
		var result protocol.ListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			m.logger.Warn("Malformed tools/list result", "server", id, "error", err)
			return
		}
		m.index.SetTools(id, result.Tools)
	case protocol.MethodListResources:
		var result protocol.ListResourcesResult
		if err := json.Unmarshal(raw, &result); err != nil {
			m.logger.Warn("Malformed resources/list result", "server", id, "error", err)
			return
		}
		m.index.SetResources(id, result.Resources)
	case protocol.MethodListPrompts:
		var result protocol.ListPromptsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			m.logger.Warn("Malformed prompts/list result", "server", id, "error", err)
			return
		}
		m.index.SetPrompts(id, result.Prompts)
	}
}

// runningCorrelator returns the correlator for a running server or a typed error.
func (m *Manager) runningCorrelator(id string) (*protocol.Correlator, error) {
	m.mu.Lock()
	inst, ok := m.instances[id]
	m.mu.Unlock()

	if !ok {
		if _, configured := m.store.Get(id); !configured {
			return nil, fmt.Errorf("%w: server '%s'", errors.ErrServerNotFound, id)
		}
		return nil, fmt.Errorf("%w: server '%s'", errors.ErrServerNotRunning, id)
	}

	_, corr, running := inst.handles()
	if !running {
		return nil, fmt.Errorf("%w: server '%s'", errors.ErrServerNotRunning, id)
	}
	return corr, nil
}

// runningIDs lists the ids of instances currently in the running state.
func (m *Manager) runningIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.currentStatus() == domain.StatusRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// validateToolArgs checks args against the tool's JSON schema. Tools without a
// usable schema skip validation rather than blocking the call.
func validateToolArgs(tool mcp.Tool, args map[string]any) error {
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil || len(schema) == 0 || string(schema) == "null" {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		// An unloadable schema is the server's fault, not the caller's.
		return nil
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: tool '%s': %s", errors.ErrToolArguments, tool.Name, strings.Join(msgs, "; "))
}
