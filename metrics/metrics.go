// Package metrics holds the Prometheus collectors shared by the service and CLI.
package metrics

import (
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "curator"

var (
	ClassifyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classify_requests_total",
		Help:      "Classification requests by backend and outcome.",
	}, []string{"backend", "outcome"})

	ClassifyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classify_duration_seconds",
		Help:      "Latency of classification requests.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"backend"})

	ClassifyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "classify_retries_total",
		Help:      "Classification attempts retried after rate limiting.",
	}, []string{"backend"})

	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Classification batches by outcome.",
	}, []string{"outcome"})

	EntriesMoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_moved_total",
		Help:      "Entries moved into category folders.",
	})

	MoveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "move_failures_total",
		Help:      "Entries that could not be moved.",
	})

	LinkChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "link_checks_total",
		Help:      "Link probes by result.",
	}, []string{"result"})

	LinkCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "link_check_duration_seconds",
		Help:      "Latency of a single link probe including retries.",
		Buckets:   prometheus.DefBuckets,
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route.",
		Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 30, 120, 600},
	}, []string{"route"})
)

// RegisterDBStats exports connection pool statistics for db. Registering the
// same database name twice is not an error.
func RegisterDBStats(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}
