package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/enrollflow/internal/logger"
)

func newLoggedRouter(t *testing.T) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	prev := logger.FromContext(context.Background())
	logger.SetDefaultLogger(logger.New(&logger.Config{Level: "info", Format: "json", Output: &buf}))
	t.Cleanup(func() { logger.SetDefaultLogger(prev) })

	r := gin.New()
	r.Use(LoggerMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		logger.CtxInfo(c.Request.Context(), "handler ran")
		c.String(http.StatusOK, "pong")
	})
	return r, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		out = append(out, line)
	}
	return out
}

func TestLoggerMiddleware_KeepsCallerRequestID(t *testing.T) {
	r, buf := newLoggedRouter(t)
	id := uuid.New().String()

	req := httptest.NewRequest(http.MethodGet, "/ping?x=1", nil)
	req.Header.Set(RequestIDHeader, id)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Equal(t, id, line[logger.FieldRequestID])
		assert.Equal(t, "api", line[logger.FieldComponent])
	}
	assert.Equal(t, "handler ran", lines[0]["message"])
	assert.Contains(t, lines[1]["message"], "/ping?x=1")
	assert.EqualValues(t, http.StatusOK, lines[1][logger.FieldStatus])
	assert.Contains(t, lines[1], logger.FieldDurationMs)
}

func TestLoggerMiddleware_ReplacesMalformedRequestID(t *testing.T) {
	r, _ := newLoggedRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", got)
}
