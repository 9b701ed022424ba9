package daemon

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// HealthTracker records the outcome of periodic pings against running servers.
// Servers are tracked while running and untracked when they stop, so health
// queries only ever cover live instances.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]domain.ServerHealth
}

// NewHealthTracker creates a tracker pre-seeded with the given server ids.
func NewHealthTracker(serverIDs []string) *HealthTracker {
	statuses := make(map[string]domain.ServerHealth, len(serverIDs))
	for _, id := range serverIDs {
		statuses[id] = domain.ServerHealth{Name: id, Status: domain.HealthStatusUnknown}
	}
	return &HealthTracker{
		statuses: statuses,
	}
}

// Track begins tracking a server, starting at unknown. Re-tracking resets its record.
func (h *HealthTracker) Track(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[id] = domain.ServerHealth{Name: id, Status: domain.HealthStatusUnknown}
}

// Untrack removes a server from tracking; used when it stops.
func (h *HealthTracker) Untrack(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, id)
}

// Status returns the health status for a single tracked server.
func (h *HealthTracker) Status(id string) (domain.ServerHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if health, ok := h.statuses[id]; ok {
		return health, nil
	}

	return domain.ServerHealth{}, fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, id)
}

// List returns a copy of all known server health records.
func (h *HealthTracker) List() []domain.ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Collect(maps.Values(h.statuses))
}

// Update records a health check for a tracked server.
// The current time is recorded as LastChecked, and LastSuccessful is updated only if status is ok.
// Latency can be nil if the ping failed or was not measured.
func (h *HealthTracker) Update(id string, status domain.HealthStatus, latency *time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now().UTC()

	prev, exists := h.statuses[id]
	if !exists {
		return fmt.Errorf("%w: %s", errors.ErrHealthNotTracked, id)
	}

	var lastSuccessful *time.Time
	if status == domain.HealthStatusOK {
		lastSuccessful = &now
	} else {
		lastSuccessful = prev.LastSuccessful
	}

	var duration *domain.Duration
	if latency != nil {
		d := domain.Duration(*latency)
		duration = &d
	}

	h.statuses[id] = domain.ServerHealth{
		Name:           id,
		Status:         status,
		Latency:        duration,
		LastChecked:    &now,
		LastSuccessful: lastSuccessful,
	}

	return nil
}
