package gateway

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestEventMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEventMetrics(reg)

	m.ObserveEvent("message", "handled", 20*time.Millisecond)
	m.ObserveEvent("message", "ignored", time.Millisecond)
	m.ObserveEvent("message", "handled", time.Millisecond)
	m.ObserveReply(nil)
	m.ObserveReply(errors.New("graph down"))

	if got := testutil.ToFloat64(m.events.WithLabelValues("message", "handled")); got != 2 {
		t.Errorf("handled events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.replies.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed replies = %v, want 1", got)
	}

	again := NewEventMetrics(reg)
	if again.events != m.events {
		t.Error("second registration should reuse the existing collector")
	}

	var nilMetrics *EventMetrics
	nilMetrics.ObserveEvent("read", "handled", 0)
	nilMetrics.ObserveReply(nil)
}

func TestInstrumentation(t *testing.T) {
	m := NewEventMetrics(prometheus.NewRegistry())
	route := gin.New()
	route.Use(m.Instrumentation())
	route.POST("/facebook", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	route.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/facebook", nil))

	if n := testutil.CollectAndCount(m.webhook); n != 1 {
		t.Errorf("expected one webhook series, got %d", n)
	}
}

func TestRequestID(t *testing.T) {
	route := gin.New()
	route.Use(RequestID())
	route.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFromCtx(c)) })

	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "abc-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			w := httptest.NewRecorder()
			route.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" || got != w.Body.String() {
				t.Fatalf("header %q, body %q", got, w.Body.String())
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("request id = %q, want %q", got, tt.header)
			}
		})
	}
}

func TestRequestLoggerSampling(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	route := gin.New()
	route.Use(RequestID(), RequestLogger(logger, LogSamplingConfig{Tick: time.Hour}))
	route.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	route.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for i := 0; i < 3; i++ {
		route.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	}
	route.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one sampled line and one error line, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], `"status":500`) || !strings.Contains(lines[1], `"level":"error"`) {
		t.Errorf("server error not logged at error level: %s", lines[1])
	}
}

func TestVerifySignature(t *testing.T) {
	const secret = "app-secret"
	body := []byte(`{"object":"page","entry":[]}`)

	route := gin.New()
	route.Use(VerifySignature(secret))
	route.POST("/facebook", func(c *gin.Context) {
		got, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(got))
	})
	route.GET("/facebook", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	tests := []struct {
		name   string
		method string
		header string
		want   int
	}{
		{"valid", http.MethodPost, "sha256=" + hex.EncodeToString(Sign(secret, body)), http.StatusOK},
		{"missing", http.MethodPost, "", http.StatusUnauthorized},
		{"wrong secret", http.MethodPost, "sha256=" + hex.EncodeToString(Sign("other", body)), http.StatusUnauthorized},
		{"not hex", http.MethodPost, "sha256=zz", http.StatusUnauthorized},
		{"sha1 header", http.MethodPost, "sha1=abcdef", http.StatusUnauthorized},
		{"get is not signed", http.MethodGet, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/facebook", bytes.NewReader(body))
			if tt.header != "" {
				req.Header.Set(SignatureHeader, tt.header)
			}
			w := httptest.NewRecorder()
			route.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && tt.method == http.MethodPost && w.Body.String() != string(body) {
				t.Errorf("body was not restored for the handler")
			}
		})
	}
}

func TestVerifySignatureDisabled(t *testing.T) {
	route := gin.New()
	route.Use(VerifySignature(""))
	route.POST("/facebook", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	route.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/facebook", strings.NewReader("{}")))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d with no app secret", w.Code)
	}
}
