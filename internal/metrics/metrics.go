// Package metrics collects Prometheus counters for authentication outcomes
// and todo list activity.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records application metrics on a prometheus registry.
type Collector struct {
	authOps         *prometheus.CounterVec
	todoMutations   *prometheus.CounterVec
	storageFailures *prometheus.CounterVec
	sessionChanges  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoapp_auth_operations_total",
			Help: "Authentication operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		todoMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoapp_todo_mutations_total",
			Help: "Applied todo list mutations by kind.",
		}, []string{"op"}),
		storageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoapp_storage_failures_total",
			Help: "Todo storage reads or writes that failed and were degraded.",
		}, []string{"op"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoapp_session_transitions_total",
			Help: "Session state transitions by resulting status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		c.authOps,
		c.todoMutations,
		c.storageFailures,
		c.sessionChanges,
	)

	return c
}

// RecordAuth counts one authentication operation.
func (c *Collector) RecordAuth(op, outcome string) {
	c.authOps.WithLabelValues(op, outcome).Inc()
}

// RecordSessionTransition counts a change of session status.
func (c *Collector) RecordSessionTransition(status string) {
	c.sessionChanges.WithLabelValues(status).Inc()
}

// RecordTodoMutation counts an applied add, toggle, delete or clear.
func (c *Collector) RecordTodoMutation(op string) {
	c.todoMutations.WithLabelValues(op).Inc()
}

// RecordStorageFailure counts a degraded load or persist.
func (c *Collector) RecordStorageFailure(op string) {
	c.storageFailures.WithLabelValues(op).Inc()
}

// WriteTextfile dumps every metric in gatherer to path in the text exposition
// format, for pickup by a node exporter textfile collector.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
