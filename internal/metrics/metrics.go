// Package metrics exposes Prometheus instrumentation for the sandbox
// subsystem. Each SandboxManager owns its own Metrics value backed by a
// private registry so managers stay independently constructible in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all counters and gauges for one manager.
type Metrics struct {
	registry *prometheus.Registry

	SandboxesActive prometheus.Gauge
	SandboxesTotal  prometheus.Counter

	ShellSessionsActive prometheus.Gauge
	ShellSessionsTotal  prometheus.Counter
	CommandsTotal       prometheus.Counter

	BrowserRequests *prometheus.CounterVec
	BrowserErrors   prometheus.Counter
	DownloadsTotal  prometheus.Counter
	DownloadBytes   prometheus.Counter
	EventsPublished *prometheus.CounterVec
}

// New creates metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SandboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spindle_sandboxes_active",
			Help: "Number of live sandboxes",
		}),
		SandboxesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_sandboxes_created_total",
			Help: "Total sandboxes created",
		}),

		ShellSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spindle_shell_sessions_active",
			Help: "Number of active shell sessions",
		}),
		ShellSessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_shell_sessions_created_total",
			Help: "Total shell sessions created",
		}),
		CommandsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_commands_executed_total",
			Help: "Total commands run through ExecuteCommand",
		}),

		BrowserRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_browser_requests_total",
			Help: "Browser HTTP requests by method",
		}, []string{"method"}),
		BrowserErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_browser_errors_total",
			Help: "Browser requests that failed at transport level or returned non-2xx",
		}),
		DownloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_downloads_total",
			Help: "Files downloaded through browser sessions",
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_download_bytes_total",
			Help: "Bytes written by browser downloads",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_events_published_total",
			Help: "Events published on the manager bus by type",
		}, []string{"type"}),
	}
}

// Registry returns the backing registry, e.g. for an exposition handler
// owned by a caller outside this subsystem.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
