// Package metrics holds the Prometheus collectors for tracker and task
// queue activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "searchtrack"

// Metrics groups the collectors. Components take a *Metrics and tolerate nil.
type Metrics struct {
	// Labels: index, op
	TrackerErrors *prometheus.CounterVec
	// Labels: index, op
	TrackerItems *prometheus.CounterVec
	// Labels: server, type, outcome (executed, skipped, failed, evicted)
	Tasks *prometheus.CounterVec
	// Labels: server
	ServersBusy *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrackerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "errors_total",
			Help:      "Tracker mutations rolled back because of a storage error.",
		}, []string{"index", "op"}),
		TrackerItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "items_total",
			Help:      "Tracked item rows affected by tracker mutations.",
		}, []string{"index", "op"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "processed_total",
			Help:      "Pending server tasks processed, by outcome.",
		}, []string{"server", "type", "outcome"}),
		ServersBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "server_busy_total",
			Help:      "Task runs skipped because another worker held the server lock.",
		}, []string{"server"}),
	}
	if reg != nil {
		reg.MustRegister(m.TrackerErrors, m.TrackerItems, m.Tasks, m.ServersBusy)
	}
	return m
}

// TrackerError counts a rolled back tracker mutation.
func (m *Metrics) TrackerError(index, op string) {
	if m == nil {
		return
	}
	m.TrackerErrors.WithLabelValues(index, op).Inc()
}

// TrackerAffected counts rows touched by a tracker mutation.
func (m *Metrics) TrackerAffected(index, op string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TrackerItems.WithLabelValues(index, op).Add(float64(n))
}

// Task counts one processed task.
func (m *Metrics) Task(server, taskType, outcome string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(server, taskType, outcome).Inc()
}

// Busy counts a server skipped because of a held lock.
func (m *Metrics) Busy(server string) {
	if m == nil {
		return
	}
	m.ServersBusy.WithLabelValues(server).Inc()
}
