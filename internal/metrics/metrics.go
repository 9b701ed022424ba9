// Package metrics exposes Prometheus counters for the runtime's hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServerStarts counts start attempts per server and outcome.
	ServerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "manager",
		Name:      "server_starts_total",
		Help:      "Server start attempts, labeled by server id and outcome.",
	}, []string{"server", "outcome"})

	// ToolCalls counts tool invocations per server and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "manager",
		Name:      "tool_calls_total",
		Help:      "Tool invocations, labeled by server id and outcome.",
	}, []string{"server", "outcome"})

	// TransportErrors counts unexpected transport exits per server.
	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "transport",
		Name:      "errors_total",
		Help:      "Unexpected transport exits, labeled by server id.",
	}, []string{"server"})
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
