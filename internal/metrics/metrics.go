// Package metrics exposes Prometheus collectors for claim synchronization and HTTP traffic.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoffice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	claimWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_claim_writes_total",
			Help: "Claim set writes to the identity authority by operation and result",
		},
		[]string{"op", "result"},
	)
	lifecycleOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_membership_operations_total",
			Help: "Membership lifecycle operations by operation and error kind",
		},
		[]string{"op", "result"},
	)
	reconcilePrincipals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_reconcile_principals_total",
			Help: "Principals processed by reconciliation by outcome",
		},
		[]string{"outcome"},
	)
	reconcileLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backoffice_reconcile_last_run_timestamp_seconds",
			Help: "Unix time of the last completed reconciliation run",
		},
	)
)

// Middleware records request duration per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// ClaimWrite counts one claim write attempt.
func ClaimWrite(op, result string) {
	claimWrites.WithLabelValues(op, result).Inc()
}

// LifecycleOp counts one membership lifecycle call; result is "ok" or an error kind.
func LifecycleOp(op, result string) {
	lifecycleOps.WithLabelValues(op, result).Inc()
}

// ReconcileOutcome counts one principal processed by reconciliation.
func ReconcileOutcome(outcome string) {
	reconcilePrincipals.WithLabelValues(outcome).Inc()
}

// ReconcileFinished records the completion time of a reconciliation run.
func ReconcileFinished(at time.Time) {
	reconcileLastRun.Set(float64(at.Unix()))
}
