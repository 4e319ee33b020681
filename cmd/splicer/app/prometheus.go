package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}
	prometheusMW   prometheusMiddleware
	insertions     *prometheus.CounterVec
	skipMismatches prometheus.Counter
)

const (
	playlistReqsName    = "playlist_requests_total"
	playlistLatencyName = "playlist_request_duration_milliseconds"
	segReqsName         = "segment_requests_total"
	segLatencyName      = "segment_request_duration_milliseconds"
	insertionsName      = "ad_insertions_total"
	skipMismatchName    = "skip_count_mismatch_total"
	service             = "splicer"
)

// prometheusMiddleware provides a handler that exposes prometheus metrics for various requests
type prometheusMiddleware struct {
	playlistReqs    *prometheus.CounterVec
	playlistLatency *prometheus.HistogramVec
	segReqs         *prometheus.CounterVec
	segLatency      *prometheus.HistogramVec
}

func init() {
	prometheusMW.playlistReqs = newCounter(playlistReqsName,
		"Number playlist requests processed, partitioned by status code.", service)
	prometheusMW.playlistLatency = newHistogram(playlistLatencyName,
		"Playlist response latency.", service, defaultBuckets)
	prometheusMW.segReqs = newCounter(segReqsName,
		"Number segment requests processed, partitioned by status code.", service)
	prometheusMW.segLatency = newHistogram(segLatencyName,
		"Segment response latency.", service, defaultBuckets)

	insertions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        insertionsName,
			Help:        "Number of ad insertion attempts, partitioned by mode and result.",
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"mode", "result"},
	)
	prometheus.MustRegister(insertions)

	skipMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        skipMismatchName,
		Help:        "Number of rewrites whose computed skip disagreed with the persisted one.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(skipMismatches)
}

func metricsInsertOK(mode string) {
	insertions.WithLabelValues(mode, "ok").Inc()
}

func metricsInsertFailed(mode string) {
	insertions.WithLabelValues(mode, "passthrough").Inc()
}

func metricsSkipMismatch() {
	skipMismatches.Inc()
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
		extIdx := strings.LastIndex(path, ".")
		if extIdx < 0 {
			return
		}

		switch ext := path[extIdx:]; ext {
		case ".m3u8":
			mw.playlistReqs.WithLabelValues(status).Inc()
			mw.playlistLatency.WithLabelValues(status).Observe(latencyMS)
		case ".ts", ".mp4", ".m4s", ".cmfv", ".cmfa", ".aac", ".vtt":
			mw.segReqs.WithLabelValues(status).Inc()
			mw.segLatency.WithLabelValues(status).Observe(latencyMS)
		}
	}
	return http.HandlerFunc(fn)
}

func newCounter(counterName, help, serviceName string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		},
		[]string{"code"},
	)
	prometheus.MustRegister(cv)
	return cv
}

func newHistogram(histogramName, help, serviceName string, buckets []float64) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        histogramName,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     buckets,
	},
		[]string{"code"},
	)
	prometheus.MustRegister(h)
	return h
}
