// Package observability — metrics.go
//
// Prometheus metrics for the EDGELOGD logging/telemetry subsystem.
//
// Endpoint: GET /metrics on 127.0.0.1:9137 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: edgelogd_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Route labels are "local" / "cloud" only.
//   - Drop reasons are a small fixed set.
//   - Block types are four fixed values.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for EDGELOGD.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Dlog pipeline ───────────────────────────────────────────────────────

	// DlogBytesTotal counts bytes accepted into the ring planes.
	DlogBytesTotal prometheus.Counter

	// DlogRotationsTotal counts ring plane rotations.
	// Labels: reason (full, critical_deadline)
	DlogRotationsTotal *prometheus.CounterVec

	// DlogDroppedTotal counts data dropped on the Dlog path.
	// Labels: reason (both_planes_full, queue_full, list_full)
	DlogDroppedTotal *prometheus.CounterVec

	// DlogQueueDepth is the current Dlog handoff queue depth.
	DlogQueueDepth prometheus.Gauge

	// ─── Upload pipeline ─────────────────────────────────────────────────────

	// UploadsStartedTotal counts blob uploads initiated.
	// Labels: route (local, cloud)
	UploadsStartedTotal *prometheus.CounterVec

	// UploadsFinishedTotal counts blob uploads completed.
	// Labels: route, outcome (ok, discarded)
	UploadsFinishedTotal *prometheus.CounterVec

	// UploadRetriesTotal counts upload retry transitions.
	// Labels: route
	UploadRetriesTotal *prometheus.CounterVec

	// UploadListDepth is the current pending-entry count per list.
	// Labels: route
	UploadListDepth *prometheus.GaugeVec

	// ─── Elog pipeline ───────────────────────────────────────────────────────

	// ElogSentTotal counts telemetry messages handed to the agent.
	ElogSentTotal prometheus.Counter

	// ElogSpilledTotal counts messages parked in the spill area.
	ElogSpilledTotal prometheus.Counter

	// ElogDroppedTotal counts messages dropped.
	// Labels: reason (level_gate, spill_full, queue_full)
	ElogDroppedTotal *prometheus.CounterVec

	// ElogSpillDepth is the current spill occupancy.
	ElogSpillDepth prometheus.Gauge

	// ─── Clock manager ───────────────────────────────────────────────────────

	// NtpRestartsTotal counts NTP daemon restart attempts.
	NtpRestartsTotal prometheus.Counter

	// NtpSyncCompleteTotal counts sync-complete notifications posted.
	NtpSyncCompleteTotal prometheus.Counter

	// ─── Agent ───────────────────────────────────────────────────────────────

	// AgentRegistrationsTotal counts sys-client registrations.
	// Labels: client (dlog, elog), outcome (ok, failed)
	AgentRegistrationsTotal *prometheus.CounterVec

	// UptimeSeconds is the number of seconds since subsystem start.
	UptimeSeconds prometheus.Gauge

	// startTime records when the subsystem started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all EDGELOGD Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		DlogBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "dlog",
			Name:      "bytes_total",
			Help:      "Total bytes accepted into the Dlog ring planes.",
		}),

		DlogRotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "dlog",
			Name:      "rotations_total",
			Help:      "Total ring plane rotations, by trigger reason.",
		}, []string{"reason"}),

		DlogDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "dlog",
			Name:      "dropped_total",
			Help:      "Total Dlog data drops, by reason.",
		}, []string{"reason"}),

		DlogQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgelogd",
			Subsystem: "dlog",
			Name:      "queue_depth",
			Help:      "Current depth of the Dlog handoff queue.",
		}),

		UploadsStartedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "upload",
			Name:      "started_total",
			Help:      "Total blob uploads initiated, by route.",
		}, []string{"route"}),

		UploadsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "upload",
			Name:      "finished_total",
			Help:      "Total blob uploads finalized, by route and outcome.",
		}, []string{"route", "outcome"}),

		UploadRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "upload",
			Name:      "retries_total",
			Help:      "Total upload retry transitions, by route.",
		}, []string{"route"}),

		UploadListDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "edgelogd",
			Subsystem: "upload",
			Name:      "list_depth",
			Help:      "Current pending upload entries, by route.",
		}, []string{"route"}),

		ElogSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "elog",
			Name:      "sent_total",
			Help:      "Total event-log telemetry messages handed to the agent.",
		}),

		ElogSpilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "elog",
			Name:      "spilled_total",
			Help:      "Total event-log messages parked in the spill area.",
		}),

		ElogDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "elog",
			Name:      "dropped_total",
			Help:      "Total event-log messages dropped, by reason.",
		}, []string{"reason"}),

		ElogSpillDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgelogd",
			Subsystem: "elog",
			Name:      "spill_depth",
			Help:      "Current spill area occupancy.",
		}),

		NtpRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "clock",
			Name:      "ntp_restarts_total",
			Help:      "Total NTP client daemon restart attempts.",
		}),

		NtpSyncCompleteTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "clock",
			Name:      "ntp_sync_complete_total",
			Help:      "Total NTP sync-complete notifications posted.",
		}),

		AgentRegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edgelogd",
			Subsystem: "agent",
			Name:      "registrations_total",
			Help:      "Total sys-client registration attempts, by client and outcome.",
		}, []string{"client", "outcome"}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgelogd",
			Subsystem: "agent",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the subsystem started.",
		}),
	}

	// Register all metrics with the dedicated registry.
	reg.MustRegister(
		m.DlogBytesTotal,
		m.DlogRotationsTotal,
		m.DlogDroppedTotal,
		m.DlogQueueDepth,
		m.UploadsStartedTotal,
		m.UploadsFinishedTotal,
		m.UploadRetriesTotal,
		m.UploadListDepth,
		m.ElogSentTotal,
		m.ElogSpilledTotal,
		m.ElogDroppedTotal,
		m.ElogSpillDepth,
		m.NtpRestartsTotal,
		m.NtpSyncCompleteTotal,
		m.AgentRegistrationsTotal,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start uptime updater goroutine.
	go m.updateUptime(ctx)

	// Shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
