// Package metrics exposes the call pipeline to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"amd-platform/internal/calls"
)

// Recorder implements calls.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	dialAttempts     *prometheus.CounterVec
	resultsRecorded  *prometheus.CounterVec
	resultConfidence *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	analysisErrors   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

var _ calls.Metrics = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func NewRecorder() (*Recorder, error) {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.dialAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amd_dial_attempts_total",
			Help: "Outbound call attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: ok, synthetic, rejected
	)
	r.resultsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amd_results_total",
			Help: "Terminal detection results by strategy, verdict and provenance",
		},
		[]string{"strategy", "amd_status", "provenance"},
	)
	r.resultConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amd_result_confidence",
			Help:    "Confidence of terminal detection results",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
		},
		[]string{"strategy"},
	)
	r.webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amd_webhook_events_total",
			Help: "Normalized provider callbacks by source and event kind",
		},
		[]string{"source", "kind"},
	)
	r.analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amd_analysis_duration_seconds",
			Help:    "Time spent in post-call recording analysis",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		},
		[]string{"strategy", "analyzer"},
	)
	r.analysisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amd_analysis_errors_total",
			Help: "Failed recording analyses by error kind",
		},
		[]string{"strategy", "analyzer", "error_kind"},
	)
	r.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amd_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	r.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amd_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	for _, c := range []prometheus.Collector{
		r.dialAttempts,
		r.resultsRecorded,
		r.resultConfidence,
		r.webhookEvents,
		r.analysisDuration,
		r.analysisErrors,
		r.httpRequests,
		r.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) DialAttempt(s calls.Strategy, outcome string) {
	r.dialAttempts.WithLabelValues(string(s), outcome).Inc()
}

func (r *Recorder) ResultRecorded(s calls.Strategy, res calls.DetectionResult) {
	r.resultsRecorded.WithLabelValues(string(s), string(res.AMDStatus), string(res.Provenance)).Inc()
	if res.AMDStatus.Determined() {
		r.resultConfidence.WithLabelValues(string(s)).Observe(res.Confidence)
	}
}

func (r *Recorder) WebhookEvent(source string, kind calls.EventKind) {
	r.webhookEvents.WithLabelValues(source, string(kind)).Inc()
}

func (r *Recorder) AnalysisFinished(s calls.Strategy, analyzer string, d time.Duration, err error) {
	r.analysisDuration.WithLabelValues(string(s), analyzer).Observe(d.Seconds())
	if err != nil {
		r.analysisErrors.WithLabelValues(string(s), analyzer, errorKindLabel(err)).Inc()
	}
}

func errorKindLabel(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return string(calls.ErrorKindTimeout)
	}
	return string(calls.KindOf(err))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Middleware records request count and latency per matched route. Unmatched
// paths share one label so scanners cannot blow up cardinality.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		r.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
