package observability

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "splitstore"

var (
	// Labels: tier (memory, redis), result (hit, miss, error)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "structure_cache",
		Name:      "lookups_total",
		Help:      "Structure cache lookups by tier and result",
	}, []string{"tier", "result"})

	// Labels: result (committed, conflict, noop, error)
	commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "versioning",
		Name:      "commits_total",
		Help:      "Bulk operation commits by outcome",
	}, []string{"result"})

	commitLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "versioning",
		Name:      "commit_seconds",
		Help:      "Time spent persisting a bulk operation",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"result"})

	structuresWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "structures_written_total",
		Help:      "Structure snapshots inserted",
	})

	definitionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "definitions_written_total",
		Help:      "Definitions inserted",
	})

	// Labels: op, status (ok, error)
	operations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "operation_seconds",
		Help:      "Modulestore operation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "status"})

	// Labels: result (published, skipped, noop)
	publishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "copies_total",
		Help:      "Branch copy outcomes",
	}, []string{"result"})

	apiInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "inspector",
		Name:      "requests_inflight",
		Help:      "Inspector requests being served",
	})

	// Labels: method, route, status
	apiLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "inspector",
		Name:      "request_seconds",
		Help:      "Inspector request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Enabled reports whether the /metrics endpoint should be mounted.
func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCacheLookup(tier, result string) {
	cacheLookups.WithLabelValues(tier, result).Inc()
}

func RecordCommit(result string, d time.Duration) {
	commits.WithLabelValues(result).Inc()
	commitLatency.WithLabelValues(result).Observe(d.Seconds())
}

func RecordStructureWritten() { structuresWritten.Inc() }

func RecordDefinitionsWritten(n int) { definitionsWritten.Add(float64(n)) }

func RecordPublish(result string) {
	publishes.WithLabelValues(result).Inc()
}

func APIInflightInc() { apiInflight.Inc() }

func APIInflightDec() { apiInflight.Dec() }

func ObserveAPI(method, route, status string, d time.Duration) {
	apiLatency.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// ObserveOperation is deferred by store entry points:
//
//	defer observability.ObserveOperation("update_item", time.Now(), &err)
func ObserveOperation(op string, start time.Time, errp *error) {
	status := "ok"
	if errp != nil && *errp != nil {
		status = "error"
	}
	operations.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
