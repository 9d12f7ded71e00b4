// Package metrics exposes the voice-worker's Prometheus surface: call
// throughput, call duration, tool invocations, and lease contention.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CallMetrics exposes counters/histograms for the call lifecycle, grounded
// on the teacher's messaging-webhook metrics but rescoped from inbound SMS
// webhooks to call starts, completions, and tool calls.
type CallMetrics struct {
	callsStarted    *prometheus.CounterVec
	callsCompleted  *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	toolInvocations *prometheus.CounterVec
	leaseContention *prometheus.CounterVec
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Total calls started by the orchestrator",
		}, []string{"language"}),
		callsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "calls",
			Name:      "completed_total",
			Help:      "Total calls synthesized by the dispatcher's post_call job",
		}, []string{"status"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voicecore",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Call duration from creation to post-call synthesis",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"status"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "Total tool invocations by the Call Orchestrator's LLM loop",
		}, []string{"tool", "status"}),
		leaseContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecore",
			Subsystem: "leases",
			Name:      "busy_total",
			Help:      "Total call-lease acquisitions that found the lease already held",
		}, []string{}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsStarted, m.callsCompleted, m.callDuration, m.toolInvocations, m.leaseContention)
	return m
}

func (m *CallMetrics) ObserveCallStarted(language string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(language).Inc()
}

func (m *CallMetrics) ObserveCallCompleted(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsCompleted.WithLabelValues(status).Inc()
	m.callDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *CallMetrics) ObserveToolInvocation(tool, status string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, status).Inc()
}

func (m *CallMetrics) ObserveLeaseBusy() {
	if m == nil {
		return
	}
	m.leaseContention.WithLabelValues().Inc()
}
