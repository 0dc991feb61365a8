// Package observability holds the Prometheus instruments shared by the
// engine. Init wires them onto a registry; every Observe helper is safe to
// call whether or not metrics are enabled.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Backing record-store calls by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Latency of backing record-store calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"op"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	cacheResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Record snapshot cache results.",
		},
		[]string{"outcome"},
	)

	geometryParseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geometry_parse_total",
			Help: "WKT parse attempts during layer builds by outcome.",
		},
		[]string{"outcome"},
	)

	gridCommitRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_commit_records_total",
			Help: "Records touched by grid commits by outcome.",
		},
		[]string{"outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

// Init registers all collectors on reg. Passing nil (metrics disabled) keeps
// the instruments unregistered but still usable. Double registration on the
// same registry is tolerated so test setups can call Init freely.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		storeOpTotal,
		storeOpDurationSeconds,
		cacheOpTotal,
		cacheResultsTotal,
		geometryParseTotal,
		gridCommitRecordsTotal,
		buildInfo,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	storeOpTotal.WithLabelValues(op, outcome(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error) {
	cacheOpTotal.WithLabelValues(op, outcome(err)).Inc()
}

func IncCacheHit()  { cacheResultsTotal.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResultsTotal.WithLabelValues("miss").Inc() }

func AddParsedGeometries(valid, invalid int) {
	if valid > 0 {
		geometryParseTotal.WithLabelValues("valid").Add(float64(valid))
	}
	if invalid > 0 {
		geometryParseTotal.WithLabelValues("invalid").Add(float64(invalid))
	}
}

func IncCommitRecord(err error) {
	gridCommitRecordsTotal.WithLabelValues(outcome(err)).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
