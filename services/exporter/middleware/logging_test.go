package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/celery-exporter/services/exporter/middleware"
)

func serve(t *testing.T, level slog.Level, status int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))

	h := middleware.RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("celery_workers 3\n"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, status, rec.Code)

	if buf.Len() == 0 {
		return nil
	}
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestRequestLogger_DebugScrape(t *testing.T) {
	line := serve(t, slog.LevelDebug, http.StatusOK)
	require.NotNil(t, line)
	assert.Equal(t, "DEBUG", line["level"])
	assert.Equal(t, "/metrics", line["path"])
	assert.Equal(t, float64(200), line["status"])
	assert.Equal(t, float64(len("celery_workers 3\n")), line["bytes"])
}

func TestRequestLogger_QuietAtInfo(t *testing.T) {
	assert.Nil(t, serve(t, slog.LevelInfo, http.StatusOK))
}

func TestRequestLogger_ServerErrorsWarn(t *testing.T) {
	line := serve(t, slog.LevelInfo, http.StatusServiceUnavailable)
	require.NotNil(t, line)
	assert.Equal(t, "WARN", line["level"])
}
