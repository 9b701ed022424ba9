// Package daemon runs the long-lived process: it starts every enabled server,
// keeps their health fresh with periodic pings, refreshes the registry snapshot,
// and serves the HTTP API until shut down.
package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/errors"
	"github.com/agentdeck/agentdeck/internal/manager"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// registrySyncInterval is how often the daemon re-checks registry staleness.
const registrySyncInterval = time.Hour

// Daemon wires the manager, health tracker, registry and API server together.
// NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	logger   hclog.Logger
	settings config.Settings
	manager  *manager.Manager
	health   *HealthTracker
	registry *registry.Client
	api      *APIServer
}

// NewDaemon assembles a daemon from its components.
func NewDaemon(
	logger hclog.Logger,
	settings config.Settings,
	mgr *manager.Manager,
	reg *registry.Client,
) (*Daemon, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if mgr == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry client cannot be nil")
	}

	health := NewHealthTracker(nil)

	apiServer, err := NewAPIServer(APIDependencies{
		Logger:        logger,
		Monitor:       mgr,
		Capabilities:  mgr,
		Tools:         mgr,
		HealthTracker: health,
		Registry:      reg,
		Addr:          settings.Addr,
	}, settings.CORS, time.Duration(settings.ShutdownTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return &Daemon{
		logger:   logger.Named("daemon"),
		settings: settings,
		manager:  mgr,
		health:   health,
		registry: reg,
		api:      apiServer,
	}, nil
}

// StartAndManage brings everything up and blocks until the context is cancelled.
// Server shutdown is handled on the way out.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	d.manager.StartAll(ctx)
	defer d.manager.StopAll()

	events, cancelEvents := d.manager.Subscribe()
	defer cancelEvents()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.trackLifecycle(gctx, events)
		return nil
	})
	g.Go(func() error {
		d.healthCheckLoop(gctx, time.Duration(d.settings.PingInterval), time.Duration(d.settings.PingTimeout))
		return nil
	})
	g.Go(func() error {
		d.registrySyncLoop(gctx)
		return nil
	})
	g.Go(func() error {
		return d.api.Start(gctx)
	})

	err := g.Wait()
	if stdErrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// trackLifecycle mirrors manager events into the health tracker so only live
// servers are pinged.
func (d *Daemon) trackLifecycle(ctx context.Context, events <-chan manager.Event) {
	// Seed from whatever StartAll already brought up.
	for _, view := range d.manager.Servers() {
		if view.Status == domain.StatusRunning {
			d.health.Track(view.ID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case manager.EventServerStarted:
				d.health.Track(ev.ServerID)
			case manager.EventServerStopped, manager.EventServerError:
				d.health.Untrack(ev.ServerID)
			}
		}
	}
}

func (d *Daemon) healthCheckLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.pingAllServers(ctx, timeout)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping MCP server health checks")
			return
		case <-ticker.C:
			d.pingAllServers(ctx, timeout)
		}
	}
}

func (d *Daemon) pingAllServers(ctx context.Context, timeout time.Duration) {
	for _, record := range d.health.List() {
		id := record.Name

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		latency, err := d.manager.Ping(pingCtx, id)
		cancel()

		switch {
		case err == nil:
			_ = d.health.Update(id, domain.HealthStatusOK, &latency)
		case stdErrors.Is(err, errors.ErrTimeout) || stdErrors.Is(err, context.DeadlineExceeded):
			d.logger.Warn("Health ping timed out", "server", id)
			_ = d.health.Update(id, domain.HealthStatusTimeout, nil)
		default:
			d.logger.Warn("Health ping failed", "server", id, "error", err)
			_ = d.health.Update(id, domain.HealthStatusUnreachable, nil)
		}
	}
}

// registrySyncLoop keeps the catalog snapshot within its TTL while the daemon runs.
func (d *Daemon) registrySyncLoop(ctx context.Context) {
	ticker := time.NewTicker(registrySyncInterval)
	defer ticker.Stop()

	d.syncRegistryIfStale(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.syncRegistryIfStale(ctx)
		}
	}
}

func (d *Daemon) syncRegistryIfStale(ctx context.Context) {
	if !d.registry.NeedsSync() {
		return
	}
	if err := d.registry.Sync(ctx); err != nil {
		d.logger.Warn("Registry sync failed, keeping cached snapshot", "error", err)
	}
}
