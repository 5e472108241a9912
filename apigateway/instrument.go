package gateway

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const eventKindsKey = "webhook_events"

// EventMetrics counts webhook events and times their dispatch.
type EventMetrics struct {
	events   *prometheus.CounterVec
	dispatch *prometheus.HistogramVec
	replies  *prometheus.CounterVec
	webhook  *prometheus.HistogramVec
}

// NewEventMetrics registers the collectors on reg, reusing collectors that are
// already registered. A nil reg means the default registerer.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &EventMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chabi",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Number of webhook events per kind and outcome",
		}, []string{"kind", "result"}),
		dispatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chabi",
			Subsystem: "webhook",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling a single webhook event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chabi",
			Subsystem: "webhook",
			Name:      "replies_total",
			Help:      "Replies sent back through the Graph API",
		}, []string{"result"}),
		webhook: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chabi",
			Subsystem: "webhook",
			Name:      "request_duration_seconds",
			Help:      "Webhook callback latency as seen by Facebook",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}
	m.events = registerCounterVec(reg, m.events)
	m.dispatch = registerHistogramVec(reg, m.dispatch)
	m.replies = registerCounterVec(reg, m.replies)
	m.webhook = registerHistogramVec(reg, m.webhook)
	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return h
}

// ObserveEvent records one dispatched event. result is one of handled,
// ignored or failed.
func (m *EventMetrics) ObserveEvent(kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
	m.dispatch.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *EventMetrics) ObserveReply(err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.replies.WithLabelValues(result).Inc()
}

// Instrumentation times webhook callbacks.
func (m *EventMetrics) Instrumentation() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		m.webhook.WithLabelValues(strconv.Itoa(c.Writer.Status()), c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// MarkEvents attaches the kinds of events carried by the request for the access log.
func MarkEvents(c *gin.Context, kinds []string) {
	if len(kinds) == 0 {
		return
	}
	c.Set(eventKindsKey, strings.Join(kinds, ","))
}
