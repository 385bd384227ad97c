// Package metrics exposes Prometheus collectors for the plugin engine and the
// admin HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Woe-Notify/pkg/plugin"
)

const namespace = "woe"

// Recorder implements plugin.Observer and records HTTP request metrics.
type Recorder struct {
	registry     *prom.Registry
	executions   *prom.CounterVec
	execDuration *prom.HistogramVec
	cacheLookups *prom.CounterVec
	initFailures *prom.CounterVec
	logsPruned   prom.Counter
	httpRequests *prom.CounterVec
	httpErrors   *prom.CounterVec
	httpLatency  *prom.HistogramVec
}

var _ plugin.Observer = (*Recorder)(nil)

// NewRecorder registers every collector on reg. A nil reg gets a fresh
// registry that also carries the Go runtime and process collectors.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r := &Recorder{
		registry: reg,
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_executions_total",
			Help:      "Plugin hook executions by event and status.",
		}, []string{"event", "status"}),
		execDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_execution_duration_seconds",
			Help:      "Plugin hook execution duration.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 3, 10},
		}, []string{"event"}),
		cacheLookups: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_cache_lookups_total",
			Help:      "Per-user plugin cache lookups by result.",
		}, []string{"result"}),
		initFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_init_errors_total",
			Help:      "Plugins skipped during load because Init failed.",
		}, []string{"module"}),
		logsPruned: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_logs_pruned_total",
			Help:      "Plugin execution logs removed by retention.",
		}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	reg.MustRegister(r.executions, r.execDuration, r.cacheLookups, r.initFailures, r.logsPruned,
		r.httpRequests, r.httpErrors, r.httpLatency)
	return r
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prom.Registry { return r.registry }

// TrackCachedUsers exposes the number of users with a loaded plugin set.
func (r *Recorder) TrackCachedUsers(count func() int) {
	r.registry.MustRegister(prom.NewGaugeFunc(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "plugin_cached_users",
		Help:      "Users whose plugin set is currently cached.",
	}, func() float64 { return float64(count()) }))
}

// PluginExecuted implements plugin.Observer.
func (r *Recorder) PluginExecuted(event plugin.Event, status plugin.Status, d time.Duration) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues(string(event), string(status)).Inc()
	r.execDuration.WithLabelValues(string(event)).Observe(d.Seconds())
}

// CacheLookup implements plugin.Observer.
func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// InitFailed implements plugin.Observer.
func (r *Recorder) InitFailed(modulePath string) {
	if r == nil {
		return
	}
	r.initFailures.WithLabelValues(modulePath).Inc()
}

// LogsPruned counts log rows removed by a retention run.
func (r *Recorder) LogsPruned(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.logsPruned.Add(float64(n))
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Recorder) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
