package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tankwatch_http_requests_total",
			Help: "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	Latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tankwatch_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// NewMetrics records request counts and latency. Routes are labelled by their
// template so that source ids do not explode the label space.
func NewMetrics(
	requests *prometheus.CounterVec,
	latency *prometheus.HistogramVec,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
