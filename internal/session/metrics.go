package session

import "github.com/prometheus/client_golang/prometheus"

var (
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tankwatch_refresh_total",
			Help: "Refresh cycles by source and result.",
		},
		[]string{"source", "result"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tankwatch_refresh_duration_seconds",
			Help:    "Duration of refresh cycles.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	rejectedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tankwatch_rejected_rows_total",
			Help: "Feed rows dropped during reconstruction.",
		},
		[]string{"source"},
	)

	waterHeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tankwatch_water_height_meters",
			Help: "Most recent water height per source.",
		},
		[]string{"source"},
	)

	lastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tankwatch_last_success_timestamp_seconds",
			Help: "Unix time of the last committed refresh.",
		},
		[]string{"source"},
	)
)

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cycles, cycleDuration, rejectedRows, waterHeight, lastSuccess}
}
