package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/pkg/errorbank"
)

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTP{RateLimit: 1, RateBurst: 1}}
	e := NewEcho(cfg, nil, zap.NewNop())
	e.GET("/tables/:table", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(e, "/tables/1").Code)

	rec := serve(e, "/tables/1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"retryable":true`)
}

func TestHealthIsNotRateLimited(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTP{RateLimit: 1, RateBurst: 1}}
	e := NewEcho(cfg, nil, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, "/health").Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	e := NewEcho(config.Config{}, nil, zap.NewNop())
	e.GET("/tables/:table", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(e, "/tables/1").Code)
	}
}

func TestRateLimitedBodyUsesEnvelope(t *testing.T) {
	cfg := config.Config{HTTP: config.HTTP{RateLimit: 1, RateBurst: 1}}
	cfg.Observability.PrometheusPath = "/metrics"
	e := NewEcho(cfg, nil, zap.NewNop())
	e.GET("/tables/:table", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	serve(e, "/tables/1")
	rec := serve(e, "/tables/1")
	assert.Contains(t, rec.Body.String(), `"kind":"too_many_requests"`)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, "/metrics").Code)
	}
}

func TestErrorHandlerRendersAppErrors(t *testing.T) {
	e := NewEcho(config.Config{}, nil, zap.NewNop())
	e.GET("/tables/:table", func(c echo.Context) error {
		return errorbank.NotFound("table not found", errorbank.WithCode("NotFound"))
	})

	rec := serve(e, "/tables/9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NotFound"`)

	assert.Equal(t, http.StatusNotFound, serve(e, "/nowhere").Code)
}
