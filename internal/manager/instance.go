package manager

import (
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/protocol"
	"github.com/agentdeck/agentdeck/internal/transport"
)

// instance is the live state of one configured server: its connection, correlator
// and lifecycle status. All fields behind mu; discoverMu serializes re-discovery
// so overlapping list_changed notifications never interleave index writes.
// gen increments on every teardown so an in-flight startup can detect that a Stop
// overtook it and must not bring the server back to running.
type instance struct {
	def config.ServerDefinition

	mu         sync.Mutex
	gen        uint64
	status     domain.Status
	lastErr    error
	conn       transport.Connection
	corr       *protocol.Correlator
	serverInfo mcp.Implementation

	discoverMu sync.Mutex
}

func newInstance(def config.ServerDefinition) *instance {
	return &instance{def: def, status: domain.StatusStopped}
}

func (in *instance) currentStatus() domain.Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// handles returns the connection and correlator if the instance is running.
func (in *instance) handles() (transport.Connection, *protocol.Correlator, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status != domain.StatusRunning || in.conn == nil || in.corr == nil {
		return nil, nil, false
	}
	return in.conn, in.corr, true
}

// teardown detaches the connection and correlator for closing, transitioning to
// the given terminal status. Returns nils if already torn down.
func (in *instance) teardown(status domain.Status, err error) (transport.Connection, *protocol.Correlator) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.teardownLocked(status, err)
}

// teardownGen is teardown conditioned on the generation: it no-ops when another
// teardown already ran since gen was observed, so a startup unwinding after a
// handshake failure cannot clobber the status a concurrent Stop recorded.
func (in *instance) teardownGen(gen uint64, status domain.Status, err error) (transport.Connection, *protocol.Correlator) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.gen != gen {
		return nil, nil
	}
	return in.teardownLocked(status, err)
}

func (in *instance) teardownLocked(status domain.Status, err error) (transport.Connection, *protocol.Correlator) {
	in.gen++
	conn, corr := in.conn, in.corr
	in.conn = nil
	in.corr = nil
	in.status = status
	in.lastErr = err
	return conn, corr
}

// completeStart transitions starting to running, unless a teardown intervened
// since gen was observed. Returns false when the startup lost that race.
func (in *instance) completeStart(gen uint64, info mcp.Implementation) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.gen != gen || in.status != domain.StatusStarting {
		return false
	}
	in.status = domain.StatusRunning
	in.serverInfo = info
	return true
}

// view snapshots the instance for read-only consumers.
func (in *instance) view(tools, resources, prompts int) domain.ServerView {
	in.mu.Lock()
	defer in.mu.Unlock()

	v := domain.ServerView{
		ID:        in.def.ID,
		Name:      in.def.Name,
		Scope:     string(in.def.Scope),
		Transport: string(in.def.Transport),
		Status:    in.status,
		Disabled:  in.def.Disabled,
		Tools:     tools,
		Resources: resources,
		Prompts:   prompts,
	}
	if in.lastErr != nil {
		v.LastError = in.lastErr.Error()
	}
	return v
}
