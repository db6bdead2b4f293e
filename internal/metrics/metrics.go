package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "salvi"

// Metrics owns the collectors of one server or CLI process. Each instance has
// its own registry so tests can create as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	pagesCreated    prometheus.Counter
	edits           *prometheus.CounterVec
	remote          *prometheus.CounterVec
	imports         *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the wiki collectors plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_created_total",
			Help:      "Pages created through the wiki service.",
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_edits_total",
			Help:      "Page edits by outcome: appended a revision or metadata only.",
		}, []string{"result"}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pages_total",
			Help:      "Pages pulled from the master instance by outcome.",
		}, []string{"result"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_pages_total",
			Help:      "Pages read from export documents by outcome.",
		}, []string{"result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pagesCreated,
		m.edits,
		m.remote,
		m.imports,
		m.requestDuration,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PageCreated() {
	m.pagesCreated.Inc()
}

func (m *Metrics) PageEdited(appended bool) {
	if appended {
		m.edits.WithLabelValues("appended").Inc()
		return
	}
	m.edits.WithLabelValues("metadata").Inc()
}

func (m *Metrics) RemoteApplied(applied bool) {
	if applied {
		m.remote.WithLabelValues("applied").Inc()
		return
	}
	m.remote.WithLabelValues("skipped").Inc()
}

// RemoteFailed counts a page the sync client could not fetch or apply.
func (m *Metrics) RemoteFailed() {
	m.remote.WithLabelValues("failed").Inc()
}

// PageImported counts one page of an import document.
func (m *Metrics) PageImported(ok bool) {
	if ok {
		m.imports.WithLabelValues("imported").Inc()
		return
	}
	m.imports.WithLabelValues("failed").Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
