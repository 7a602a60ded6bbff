package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/shell"
)

// maxLabelLen is the maximum length for a metric label value
const maxLabelLen = 64

// sanitizeLabel ensures a label value is safe for Prometheus:
// - Truncates to maxLabelLen
// - Replaces spaces with underscores
// - Returns "unknown" for empty values
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// AIMetrics manages Prometheus instrumentation for the assistant.
type AIMetrics struct {
	// Command decisions - allowed, blocked, timeout
	commandDecisions *prometheus.CounterVec
	// Blocks by guard rule; rules are a small fixed set, never raw commands
	commandBlocks   *prometheus.CounterVec
	commandDuration prometheus.Histogram

	// Loop health - tracks agentic loop iterations
	agenticIterations *prometheus.CounterVec
	providerErrors    *prometheus.CounterVec
	turns             *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

var (
	aiMetricsInstance *AIMetrics
	aiMetricsOnce     sync.Once
)

// GetAIMetrics returns the singleton AI metrics instance, registered with
// the default Prometheus registry.
func GetAIMetrics() *AIMetrics {
	aiMetricsOnce.Do(func() {
		aiMetricsInstance = NewAIMetrics(prometheus.DefaultRegisterer)
	})
	return aiMetricsInstance
}

// NewAIMetrics creates the metric set and registers it with reg.
func NewAIMetrics(reg prometheus.Registerer) *AIMetrics {
	m := &AIMetrics{
		commandDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bashmate",
				Subsystem: "command",
				Name:      "decisions_total",
				Help:      "Total run_command invocations by outcome",
			},
			[]string{"decision"},
		),
		commandBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bashmate",
				Subsystem: "command",
				Name:      "blocked_total",
				Help:      "Total blocked commands by guard rule",
			},
			[]string{"rule"},
		),
		commandDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "bashmate",
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Wall time of executed commands",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
			},
		),
		agenticIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bashmate",
				Subsystem: "ai",
				Name:      "agentic_iterations_total",
				Help:      "Total agentic loop iterations by provider and model",
			},
			[]string{"provider", "model"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bashmate",
				Subsystem: "ai",
				Name:      "provider_errors_total",
				Help:      "Total failed provider requests by provider",
			},
			[]string{"provider"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bashmate",
				Subsystem: "ai",
				Name:      "turns_total",
				Help:      "Total chat turns by outcome",
			},
			[]string{"outcome"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bashmate",
				Subsystem: "ai",
				Name:      "active_sessions",
				Help:      "Chat sessions currently open",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.commandDecisions,
			m.commandBlocks,
			m.commandDuration,
			m.agenticIterations,
			m.providerErrors,
			m.turns,
			m.activeSessions,
		)
	}

	return m
}

// RecordCommand records the outcome of a run_command call.
// decision is one of "allowed", "blocked" or "timeout".
func (m *AIMetrics) RecordCommand(decision string, duration time.Duration) {
	m.commandDecisions.WithLabelValues(sanitizeLabel(decision)).Inc()
	if duration > 0 {
		m.commandDuration.Observe(duration.Seconds())
	}
}

// RecordBlock records which guard rule refused a command.
func (m *AIMetrics) RecordBlock(rule string) {
	m.commandBlocks.WithLabelValues(sanitizeLabel(rule)).Inc()
}

// RecordAgenticIteration records an agentic loop iteration (one LLM call).
// This counts each turn in the agentic loop, not each tool call.
func (m *AIMetrics) RecordAgenticIteration(provider, model string) {
	m.agenticIterations.WithLabelValues(sanitizeLabel(provider), sanitizeLabel(model)).Inc()
}

// RecordProviderError records a failed provider request.
func (m *AIMetrics) RecordProviderError(provider string) {
	m.providerErrors.WithLabelValues(sanitizeLabel(provider)).Inc()
}

// RecordTurn records a finished chat turn. outcome is "ok" or "error".
func (m *AIMetrics) RecordTurn(outcome string) {
	m.turns.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

// SessionOpened and SessionClosed track the active session gauge.
func (m *AIMetrics) SessionOpened() { m.activeSessions.Inc() }

func (m *AIMetrics) SessionClosed() { m.activeSessions.Dec() }

// MetricsObserver adapts AIMetrics to shell.Observer so the runner can
// record command outcomes without importing the chat package.
type MetricsObserver struct {
	metrics *AIMetrics
}

// NewMetricsObserver creates a runner observer backed by m.
func NewMetricsObserver(m *AIMetrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// CommandBlocked implements shell.Observer
func (o *MetricsObserver) CommandBlocked(_ context.Context, _ string, decision safety.Decision) {
	if o.metrics != nil {
		o.metrics.RecordCommand("blocked", 0)
		o.metrics.RecordBlock(decision.Rule)
	}
}

// CommandExecuted implements shell.Observer
func (o *MetricsObserver) CommandExecuted(_ context.Context, _ string, out shell.Output) {
	if o.metrics != nil {
		o.metrics.RecordCommand("allowed", out.Duration)
	}
}

// CommandTimedOut implements shell.Observer
func (o *MetricsObserver) CommandTimedOut(_ context.Context, _ string, limit time.Duration, _ shell.Output) {
	if o.metrics != nil {
		o.metrics.RecordCommand("timeout", limit)
	}
}
