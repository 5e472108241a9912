package messenger

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var graphMetricsOnce sync.Once

var (
	graphRequestsTotal   *prometheus.CounterVec
	graphRequestDuration *prometheus.HistogramVec
	graphRequestSize     *prometheus.HistogramVec
	graphResponseSize    *prometheus.HistogramVec
)

func registerHistogramVec(c *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		logrus.Printf("prometheus histogram register failed: %v", err)
	}
	return c
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		logrus.Printf("prometheus counter register failed: %v", err)
	}
	return c
}

func initGraphMetrics() {
	graphMetricsOnce.Do(func() {
		graphRequestsTotal = registerCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chabi",
			Subsystem: "graph_api",
			Name:      "requests_total",
			Help:      "Total number of Graph API requests.",
		}, []string{"endpoint", "status", "result"}))

		graphRequestDuration = registerHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chabi",
			Subsystem: "graph_api",
			Name:      "request_duration_seconds",
			Help:      "Duration of Graph API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "result"}))

		sizeBuckets := []float64{100, 250, 500, 1_000, 2_000, 5_000, 10_000, 50_000}
		graphRequestSize = registerHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chabi",
			Subsystem: "graph_api",
			Name:      "request_size_bytes",
			Help:      "Size of Graph API request bodies.",
			Buckets:   sizeBuckets,
		}, []string{"endpoint"}))

		graphResponseSize = registerHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chabi",
			Subsystem: "graph_api",
			Name:      "response_size_bytes",
			Help:      "Size of Graph API response bodies.",
			Buckets:   sizeBuckets,
		}, []string{"endpoint"}))
	})
}

func recordGraphMetrics(endpoint string, statusCode int, err error, reqSize, respSize int, duration time.Duration) {
	if graphRequestsTotal == nil {
		return
	}
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	result := "success"
	if err != nil {
		result = "error"
	}

	graphRequestsTotal.WithLabelValues(endpoint, status, result).Inc()
	graphRequestDuration.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	graphRequestSize.WithLabelValues(endpoint).Observe(float64(reqSize))
	graphResponseSize.WithLabelValues(endpoint).Observe(float64(respSize))
}
