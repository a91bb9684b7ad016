package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/table"
)

// Metrics is the host's Prometheus instrumentation on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	intents  *prometheus.CounterVec
	autosave *prometheus.CounterVec
}

// NewMetrics registers the host collectors. sessions and uploads back the
// gauges and may be nil.
func NewMetrics(sessions func() int, uploads func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erpshell",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "erpshell",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erpshell",
			Name:      "intents_total",
			Help:      "Engine intents by outcome.",
		}, []string{"engine", "intent", "outcome"}),
		autosave: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "erpshell",
			Name:      "autosave_total",
			Help:      "Wizard autosaves by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.intents, m.autosave,
	)
	if sessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "erpshell",
			Name:      "sessions",
			Help:      "Live engine sessions.",
		}, func() float64 { return float64(sessions()) }))
	}
	if uploads != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "erpshell",
			Name:      "uploads_in_flight",
			Help:      "Upload slots currently held.",
		}, func() float64 { return float64(uploads()) }))
	}
	return m
}

// Observe records one finished request. It matches middleware.Observer.
func (m *Metrics) Observe(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Intent counts one engine intent. Rejections are host or engine refusals
// the user can correct; everything else is an error.
func (m *Metrics) Intent(engine, intent string, err error) {
	m.intents.WithLabelValues(engine, intent, outcome(err)).Inc()
}

// Autosave counts one autosave attempt.
func (m *Metrics) Autosave(err error) {
	if err != nil {
		m.autosave.WithLabelValues("error").Inc()
		return
	}
	m.autosave.WithLabelValues("ok").Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var rejections = []error{
	table.ErrFeatureDisabled, table.ErrNoSelection, table.ErrNotEditing,
	table.ErrNotEditable, table.ErrUnknownRecord,
	form.ErrStepInvalid, form.ErrStepSkip, form.ErrStepRange,
	form.ErrFirstStep, form.ErrLastStep, form.ErrUploadRejected,
	form.ErrCompleted, form.ErrSubmitting, form.ErrUploadInFlight,
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return "rejected"
		}
	}
	return "error"
}
