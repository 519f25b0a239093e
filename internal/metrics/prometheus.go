// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the audiocut service.
type Metrics struct {
	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Export metrics
	Exports             *prometheus.CounterVec
	SegmentsEncoded       prometheus.Counter
	SegmentEncodeFailures prometheus.Counter
	SegmentSaveFailures   prometheus.Counter
	EncodedBytes        prometheus.Counter
	DecodeDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them on reg. A nil reg gets a
// fresh registry, which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocut_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiocut_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiocut_exports_total",
			Help: "Finished exports by final job status",
		}, []string{"outcome"}),
		SegmentsEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocut_segments_encoded_total",
			Help: "Total number of segments encoded to WAV",
		}),
		SegmentEncodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocut_segment_encode_failures_total",
			Help: "Total number of segments that could not be encoded",
		}),
		SegmentSaveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocut_segment_save_failures_total",
			Help: "Total number of encoded segments that could not be saved",
		}),
		EncodedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiocut_encoded_bytes_total",
			Help: "Total bytes of WAV output produced",
		}),
		DecodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiocut_decode_duration_seconds",
			Help:    "Time spent decoding uploads",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"format"}),

		gatherer: reg,
	}
}

// Handler serves the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SegmentEncoded counts one encoded segment of n bytes.
func (m *Metrics) SegmentEncoded(n int) {
	m.SegmentsEncoded.Inc()
	m.EncodedBytes.Add(float64(n))
}

// SegmentEncodeFailed counts a segment the encoder rejected.
func (m *Metrics) SegmentEncodeFailed() {
	m.SegmentEncodeFailures.Inc()
}

// SegmentSaveFailed counts an encoded segment that was not stored.
func (m *Metrics) SegmentSaveFailed() {
	m.SegmentSaveFailures.Inc()
}

// ObserveDecode records how long decoding an upload took.
func (m *Metrics) ObserveDecode(format string, d time.Duration) {
	m.DecodeDuration.WithLabelValues(format).Observe(d.Seconds())
}

// ExportFinished counts an export by its final status.
func (m *Metrics) ExportFinished(status string) {
	m.Exports.WithLabelValues(status).Inc()
}
