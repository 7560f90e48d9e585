// Package metrics exposes the Prometheus instruments shared by the orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatched actions by action and result
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiwi_dispatch_total",
		Help: "Total dispatched actions by action and result",
	}, []string{"action", "result"})

	// DispatchDuration tracks round-trip time of dispatched actions
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiwi_dispatch_duration_seconds",
		Help:    "Dispatch round-trip duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"action"})

	// PollersActive is the number of running status pollers
	PollersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kiwi_pollers_active",
		Help: "Number of active status pollers",
	})

	// PollFetchTotal counts status fetches by poll kind and result
	PollFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiwi_poll_fetch_total",
		Help: "Total poll fetches by kind and result",
	}, []string{"kind", "result"})

	// PollOutcomeTotal counts finished polls by kind and reason
	PollOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiwi_poll_outcome_total",
		Help: "Finished polls by kind and reason",
	}, []string{"kind", "reason"})

	// AuthPromptsTotal counts authentication sessions that required manual entry
	AuthPromptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiwi_auth_prompts_total",
		Help: "Authentication requests that needed manual credential entry",
	}, []string{"purpose"})

	// AuthBypassTotal counts authentication requests fully served from the credential store
	AuthBypassTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiwi_auth_bypass_total",
		Help: "Authentication requests resolved from cached credentials",
	}, []string{"purpose"})
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ResultLabel maps an error to a result label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
