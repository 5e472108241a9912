package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LogSamplingConfig limits successful requests to one log line per Tick.
// Requests slower than After, failed requests and 5xx answers are always logged.
type LogSamplingConfig struct {
	Tick  time.Duration
	After time.Duration
}

type logSampler struct {
	tick  time.Duration
	after time.Duration
	next  time.Time
	mu    sync.Mutex
}

func newLogSampler(cfg LogSamplingConfig) *logSampler {
	return &logSampler{tick: cfg.Tick, after: cfg.After}
}

func (s *logSampler) Allow(duration time.Duration) bool {
	if s.after > 0 && duration >= s.after {
		return true
	}
	if s.tick <= 0 {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next.IsZero() || now.After(s.next) {
		s.next = now.Add(s.tick)
		return true
	}
	return false
}

func RequestLogger(logger *logrus.Logger, cfg LogSamplingConfig) gin.HandlerFunc {
	sampler := newLogSampler(cfg)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		routePath := c.FullPath()
		if routePath == "" {
			routePath = c.Request.URL.Path
		}
		failed := status >= http.StatusInternalServerError || len(c.Errors) > 0
		if !failed && !sampler.Allow(duration) {
			return
		}

		entry := logger.WithFields(logrus.Fields{
			"request_id":  RequestIDFromCtx(c),
			"method":      c.Request.Method,
			"path":        routePath,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"bytes_in":    c.Request.ContentLength,
			"bytes_out":   c.Writer.Size(),
			"ip":          c.ClientIP(),
		})
		if kind := c.GetString(eventKindsKey); kind != "" {
			entry = entry.WithField("events", kind)
		}
		if userAgent := c.GetHeader("User-Agent"); userAgent != "" {
			entry = entry.WithField("user_agent", userAgent)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch {
		case failed:
			entry.Error("http_request")
		case status >= http.StatusBadRequest:
			entry.Warn("http_request")
		default:
			entry.Info("http_request")
		}
	}
}
