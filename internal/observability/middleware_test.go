package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/znplink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestMiddlewareLogsAndCounts(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(logger, "/metrics"))
	r.Use(RequestMetricsMiddleware("mw-link"))
	r.GET("/link", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/link", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))
	require.Contains(t, buf.String(), `"level":"info"`)
	require.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NotEmpty(t, rr.Header().Get(RequestIDHeader))
	require.Contains(t, buf.String(), `"level":"debug"`)

	require.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("mw-link", "GET", "/link", "200")))
}
