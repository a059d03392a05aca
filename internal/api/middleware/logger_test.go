package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/api/middleware"
)

// captureLog redirects the global logger into a buffer for one test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func TestLogger_CorrelatesRequestID(t *testing.T) {
	buf := captureLog(t)

	handler := chimw.RequestID(middleware.Logger(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	reqID := rec.Header().Get("X-Request-Id")
	if reqID == "" {
		t.Fatal("X-Request-Id response header not set")
	}
	line := buf.String()
	if !strings.Contains(line, `"request_id":"`+reqID+`"`) {
		t.Errorf("log line missing request id %q: %s", reqID, line)
	}
	if !strings.Contains(line, `"path":"/health"`) || !strings.Contains(line, `"status":200`) {
		t.Errorf("log line missing request fields: %s", line)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	buf := captureLog(t)

	handler := middleware.Logger(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/query", nil))

	line := buf.String()
	if !strings.Contains(line, `"level":"error"`) {
		t.Errorf("5xx response not logged at error level: %s", line)
	}
	if !strings.Contains(line, `"status":502`) {
		t.Errorf("log line missing status: %s", line)
	}
}
