package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/capability"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/errors"
	"github.com/agentdeck/agentdeck/internal/transport"
)

// fakeConn is a scripted in-memory MCP server: it answers the handshake and
// capability calls synchronously through the captured message handler.
type fakeConn struct {
	id string

	mu              sync.Mutex
	onMessage       transport.MessageHandler
	onExit          transport.ExitHandler
	tools           []mcp.Tool
	resources       []mcp.Resource
	methods         []string
	initErr         *rpcError
	listErrs        map[string]*rpcError
	beforeInitReply func()
	toolResult      json.RawMessage
	started         bool
	closed          bool
}

func (f *fakeConn) attach(onMessage transport.MessageHandler, onExit transport.ExitHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = onMessage
	f.onExit = onExit
}

func (f *fakeConn) setTools(tools []mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

func (f *fakeConn) setResources(resources []mcp.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources = resources
}

// failList makes one capability list method answer with a JSON-RPC error.
func (f *fakeConn) failList(method string, e *rpcError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErrs == nil {
		f.listErrs = make(map[string]*rpcError)
	}
	f.listErrs[method] = e
}

func (f *fakeConn) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.methods...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Send(_ context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	f.mu.Lock()
	f.methods = append(f.methods, env.Method)
	tools := append([]mcp.Tool{}, f.tools...)
	resources := append([]mcp.Resource{}, f.resources...)
	initErr := f.initErr
	listErr := f.listErrs[env.Method]
	beforeInit := f.beforeInitReply
	toolResult := f.toolResult
	onMessage := f.onMessage
	f.mu.Unlock()

	// Notifications get no reply.
	if env.ID == nil {
		return nil
	}

	reply := envelope{JSONRPC: "2.0", ID: env.ID}
	switch env.Method {
	case "initialize":
		if beforeInit != nil {
			beforeInit()
		}
		if initErr != nil {
			reply.Error = initErr
		} else {
			reply.Result = mustMarshal(map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      mcp.Implementation{Name: f.id, Version: "1.0.0"},
			})
		}
	case "tools/list":
		if listErr != nil {
			reply.Error = listErr
		} else {
			reply.Result = mustMarshal(map[string]any{"tools": tools})
		}
	case "resources/list":
		if listErr != nil {
			reply.Error = listErr
		} else {
			reply.Result = mustMarshal(map[string]any{"resources": resources})
		}
	case "prompts/list":
		if listErr != nil {
			reply.Error = listErr
		} else {
			reply.Result = json.RawMessage(`{"prompts":[]}`)
		}
	case "ping":
		reply.Result = json.RawMessage(`{}`)
	case "tools/call":
		reply.Result = toolResult
	case "resources/read":
		reply.Result = json.RawMessage(`{"contents":[{"uri":"file:///a","text":"hello"}]}`)
	case "prompts/get":
		reply.Result = json.RawMessage(`{"messages":[]}`)
	default:
		reply.Error = &rpcError{Code: -32601, Message: "method not found"}
	}

	raw, _ := json.Marshal(reply)
	onMessage(raw)
	return nil
}

// notify pushes an unsolicited server notification through the message handler.
func (f *fakeConn) notify(method string) {
	f.mu.Lock()
	onMessage := f.onMessage
	f.mu.Unlock()

	raw, _ := json.Marshal(envelope{JSONRPC: "2.0", Method: method})
	onMessage(raw)
}

// exit simulates the transport dying underneath the manager.
func (f *fakeConn) exit(err error) {
	f.mu.Lock()
	onExit := f.onExit
	f.mu.Unlock()
	onExit(err)
}

// envelope mirrors the wire shape so the fake stays independent of internals.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// fakeFactory hands out one fakeConn per server id, rebinding handlers on restart.
type fakeFactory struct {
	mu        sync.Mutex
	conns     map[string]*fakeConn
	creations int
	err       error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[string]*fakeConn)}
}

func (ff *fakeFactory) conn(id string) *fakeConn {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	conn, ok := ff.conns[id]
	if !ok {
		conn = &fakeConn{id: id, toolResult: json.RawMessage(`{"content":[{"type":"text","text":"done"}]}`)}
		ff.conns[id] = conn
	}
	return conn
}

func (ff *fakeFactory) new(_ hclog.Logger, def config.ServerDefinition, onMessage transport.MessageHandler, onExit transport.ExitHandler) (transport.Connection, error) {
	ff.mu.Lock()
	err := ff.err
	ff.creations++
	ff.mu.Unlock()
	if err != nil {
		return nil, err
	}

	conn := ff.conn(def.ID)
	conn.attach(onMessage, onExit)
	return conn, nil
}

func (ff *fakeFactory) created() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.creations
}

func stdioDef(id string) config.ServerDefinition {
	return config.ServerDefinition{
		ID:        id,
		Transport: config.TransportStdio,
		Command:   "fake-server",
	}
}

func newTestManager(t *testing.T, ff *fakeFactory, defs ...config.ServerDefinition) (*Manager, *capability.Index) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	store, err := config.NewStore(hclog.NewNullLogger(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Load())
	for _, def := range defs {
		require.NoError(t, store.Add(def))
	}

	idx := capability.NewIndex(hclog.NewNullLogger())
	m := New(hclog.NewNullLogger(), store, idx, config.DefaultSettings(), WithTransportFactory(ff.new))
	t.Cleanup(m.StopAll)
	return m, idx
}

// drainKinds collects the event kinds currently buffered on the channel.
func drainKinds(ch <-chan Event) []EventKind {
	var kinds []EventKind
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestManager_StartRunsHandshakeAndDiscovery(t *testing.T) {
	ff := newFakeFactory()
	ff.conn("alpha").setTools([]mcp.Tool{
		{Name: "read_file", Description: "Read a file"},
	})

	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	events, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.Start(context.Background(), "alpha"))

	view, err := m.Server("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, view.Status)
	require.Equal(t, 1, view.Tools)

	// initialize, then the initialized notification, then the three list calls.
	methods := ff.conn("alpha").sentMethods()
	require.Equal(t, []string{
		"initialize",
		"notifications/initialized",
		"tools/list",
		"resources/list",
		"prompts/list",
	}, methods)

	all := m.AllTools()
	require.Len(t, all, 1)
	require.Equal(t, "alpha", all[0].ServerID)
	require.Equal(t, "read_file", all[0].Tool.Name)

	kinds := drainKinds(events)
	require.Contains(t, kinds, EventCapabilitiesUpdated)
	require.Contains(t, kinds, EventServerStarted)
}

func TestManager_DiscoveryToleratesFailingListCall(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")
	conn.setTools([]mcp.Tool{{Name: "read_file"}})
	conn.setResources([]mcp.Resource{{URI: "memo://notes", Name: "notes"}})
	conn.failList("prompts/list", &rpcError{Code: -32601, Message: "method not found"})

	m, idx := newTestManager(t, ff, stdioDef("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	// A server without prompts support still comes up with everything else indexed.
	view, err := m.Server("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, view.Status)
	require.Equal(t, 1, view.Tools)
	require.Equal(t, 1, view.Resources)
	require.Zero(t, view.Prompts)

	tools, resources, prompts := idx.Counts("alpha")
	require.Equal(t, 1, tools)
	require.Equal(t, 1, resources)
	require.Zero(t, prompts)
}

func TestManager_StartUnknownServer(t *testing.T) {
	m, _ := newTestManager(t, newFakeFactory())

	err := m.Start(context.Background(), "ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestManager_StartDisabledServer(t *testing.T) {
	def := stdioDef("off")
	def.Disabled = true
	m, _ := newTestManager(t, newFakeFactory(), def)

	err := m.Start(context.Background(), "off")
	require.ErrorIs(t, err, errors.ErrServerDisabled)
}

func TestManager_StartTwiceIsNoOp(t *testing.T) {
	ff := newFakeFactory()
	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	require.NoError(t, m.Start(context.Background(), "alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))
	require.Equal(t, 1, ff.created())
}

func TestManager_StartAllSkipsDisabled(t *testing.T) {
	ff := newFakeFactory()
	disabled := stdioDef("off")
	disabled.Disabled = true
	m, _ := newTestManager(t, ff, stdioDef("alpha"), stdioDef("beta"), disabled)

	m.StartAll(context.Background())
	require.Equal(t, 2, ff.created())

	views := m.Servers()
	require.Len(t, views, 3)
	byID := make(map[string]domain.ServerView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}
	require.Equal(t, domain.StatusRunning, byID["alpha"].Status)
	require.Equal(t, domain.StatusRunning, byID["beta"].Status)
	require.Equal(t, domain.StatusStopped, byID["off"].Status)
	require.True(t, byID["off"].Disabled)
}

func TestManager_InitializeFailureMarksError(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")
	conn.initErr = &rpcError{Code: -32000, Message: "unsupported protocol"}

	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	err := m.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, errors.ErrProtocol)

	view, err := m.Server("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, view.Status)
	require.Contains(t, view.LastError, "unsupported protocol")
	require.True(t, conn.isClosed())
}

func TestManager_StopTearsDownAndClears(t *testing.T) {
	ff := newFakeFactory()
	ff.conn("alpha").setTools([]mcp.Tool{{Name: "read_file"}})
	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	require.NoError(t, m.Start(context.Background(), "alpha"))
	require.Len(t, m.AllTools(), 1)

	require.NoError(t, m.Stop("alpha"))
	require.True(t, ff.conn("alpha").isClosed())
	require.Empty(t, m.AllTools())

	view, err := m.Server("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.StatusStopped, view.Status)

	// Stopping again, or stopping something never started, is a no-op.
	require.NoError(t, m.Stop("alpha"))
	require.NoError(t, m.Stop("ghost"))
}

func TestManager_StopDuringStartupWins(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")

	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	// Stop lands while the initialize call is still in flight.
	conn.beforeInitReply = func() { _ = m.Stop("alpha") }

	err := m.Start(context.Background(), "alpha")
	require.ErrorIs(t, err, errors.ErrCancelled)

	view, verr := m.Server("alpha")
	require.NoError(t, verr)
	require.Equal(t, domain.StatusStopped, view.Status)
	require.True(t, conn.isClosed())

	_, err = m.CallTool(context.Background(), "alpha", "read_file", nil)
	require.ErrorIs(t, err, errors.ErrServerNotRunning)
}

func TestManager_RestartAfterStop(t *testing.T) {
	ff := newFakeFactory()
	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	require.NoError(t, m.Start(context.Background(), "alpha"))
	require.NoError(t, m.Stop("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	view, err := m.Server("alpha")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, view.Status)
	require.Equal(t, 2, ff.created())
}

func TestManager_CallTool(t *testing.T) {
	ff := newFakeFactory()
	ff.conn("alpha").setTools([]mcp.Tool{
		{
			Name: "read_file",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"path": map[string]any{"type": "string"},
				},
				Required: []string{"path"},
			},
		},
	})
	m, _ := newTestManager(t, ff, stdioDef("alpha"), stdioDef("idle"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	t.Run("valid arguments", func(t *testing.T) {
		result, err := m.CallTool(context.Background(), "alpha", "read_file", map[string]any{"path": "/etc/hosts"})
		require.NoError(t, err)
		require.JSONEq(t, `{"content":[{"type":"text","text":"done"}]}`, string(result))
	})

	t.Run("arguments rejected by schema", func(t *testing.T) {
		_, err := m.CallTool(context.Background(), "alpha", "read_file", map[string]any{"path": 42})
		require.ErrorIs(t, err, errors.ErrToolArguments)

		_, err = m.CallTool(context.Background(), "alpha", "read_file", nil)
		require.ErrorIs(t, err, errors.ErrToolArguments)
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := m.CallTool(context.Background(), "alpha", "missing", nil)
		require.ErrorIs(t, err, errors.ErrToolNotFound)
	})

	t.Run("server not running", func(t *testing.T) {
		_, err := m.CallTool(context.Background(), "idle", "read_file", nil)
		require.ErrorIs(t, err, errors.ErrServerNotRunning)
	})

	t.Run("server not configured", func(t *testing.T) {
		_, err := m.CallTool(context.Background(), "ghost", "read_file", nil)
		require.ErrorIs(t, err, errors.ErrServerNotFound)
	})
}

func TestManager_ReadResourceAndGetPrompt(t *testing.T) {
	ff := newFakeFactory()
	m, _ := newTestManager(t, ff, stdioDef("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	contents, err := m.ReadResource(context.Background(), "alpha", "file:///a")
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello")

	messages, err := m.GetPrompt(context.Background(), "alpha", "summarize", map[string]string{"topic": "go"})
	require.NoError(t, err)
	require.JSONEq(t, `{"messages":[]}`, string(messages))
}

func TestManager_Ping(t *testing.T) {
	ff := newFakeFactory()
	m, _ := newTestManager(t, ff, stdioDef("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	latency, err := m.Ping(context.Background(), "alpha")
	require.NoError(t, err)
	require.GreaterOrEqual(t, latency, time.Duration(0))

	_, err = m.Ping(context.Background(), "ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestManager_ListChangedTriggersRediscovery(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")
	conn.setTools([]mcp.Tool{{Name: "read_file"}})

	m, idx := newTestManager(t, ff, stdioDef("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	_, ok := idx.Tool("alpha", "read_file")
	require.True(t, ok)

	conn.setTools([]mcp.Tool{{Name: "read_file"}, {Name: "write_file"}})
	conn.notify("notifications/tools/list_changed")

	require.Eventually(t, func() bool {
		_, ok := idx.Tool("alpha", "write_file")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_TransportExitMarksError(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")
	conn.setTools([]mcp.Tool{{Name: "read_file"}})

	m, _ := newTestManager(t, ff, stdioDef("alpha"))

	events, cancel := m.Subscribe()
	defer cancel()

	require.NoError(t, m.Start(context.Background(), "alpha"))

	conn.exit(fmt.Errorf("%w: process crashed", errors.ErrTransport))

	require.Eventually(t, func() bool {
		view, err := m.Server("alpha")
		return err == nil && view.Status == domain.StatusError
	}, 2*time.Second, 10*time.Millisecond)

	require.Empty(t, m.AllTools())

	require.Eventually(t, func() bool {
		for _, kind := range drainKinds(events) {
			if kind == EventServerError {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Calls against the dead server now report it as not running.
	_, err := m.CallTool(context.Background(), "alpha", "read_file", nil)
	require.ErrorIs(t, err, errors.ErrServerNotRunning)
}

func TestManager_CleanTransportExitMarksStopped(t *testing.T) {
	ff := newFakeFactory()
	conn := ff.conn("alpha")
	m, _ := newTestManager(t, ff, stdioDef("alpha"))
	require.NoError(t, m.Start(context.Background(), "alpha"))

	conn.exit(nil)

	require.Eventually(t, func() bool {
		view, err := m.Server("alpha")
		return err == nil && view.Status == domain.StatusStopped
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_SearchAndRelevantToolsCoverOnlyRunningServers(t *testing.T) {
	ff := newFakeFactory()
	ff.conn("alpha").setTools([]mcp.Tool{{Name: "read_file", Description: "Read a file"}})
	ff.conn("beta").setTools([]mcp.Tool{{Name: "read_table", Description: "Read a database table"}})

	m, _ := newTestManager(t, ff, stdioDef("alpha"), stdioDef("beta"))
	require.NoError(t, m.Start(context.Background(), "alpha"))
	require.NoError(t, m.Start(context.Background(), "beta"))
	require.NoError(t, m.Stop("beta"))

	result := m.SearchCapabilities("read")
	require.Len(t, result.Tools, 1)
	require.Equal(t, "alpha", result.Tools[0].ServerID)

	tools, err := m.RelevantTools("alpha", "read")
	require.NoError(t, err)
	require.NotEmpty(t, tools)

	_, err = m.RelevantTools("beta", "read")
	require.ErrorIs(t, err, errors.ErrServerNotRunning)
}

func TestManager_AuthenticateRequiresOAuthConfig(t *testing.T) {
	m, _ := newTestManager(t, newFakeFactory(), stdioDef("alpha"))

	_, err := m.Authenticate(context.Background(), "alpha")
	require.ErrorIs(t, err, errors.ErrBadRequest)

	_, err = m.Authenticate(context.Background(), "ghost")
	require.ErrorIs(t, err, errors.ErrServerNotFound)
}

func TestValidateToolArgs_SkipsUnusableSchemas(t *testing.T) {
	// No schema at all: anything goes.
	require.NoError(t, validateToolArgs(mcp.Tool{Name: "freeform"}, map[string]any{"x": 1}))

	// A declared schema still applies to nil arguments.
	withRequired := mcp.Tool{
		Name: "strict",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"q": map[string]any{"type": "string"}},
			Required:   []string{"q"},
		},
	}
	require.ErrorIs(t, validateToolArgs(withRequired, nil), errors.ErrToolArguments)
	require.NoError(t, validateToolArgs(withRequired, map[string]any{"q": "ok"}))
}
