package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/analyze/internal/api/shared"
	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMiddleware(t *testing.T) {
	var buf strings.Builder
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var seen string
	h := NewTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(shared.TraceIDHeader))
	assert.Contains(t, buf.String(), "trace_id="+seen)
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantStatus float64
		wantLevel  string
	}{
		{name: "success", status: http.StatusAccepted, wantStatus: 202, wantLevel: "INFO"},
		{name: "implicit ok", status: 0, wantStatus: 200, wantLevel: "INFO"},
		{name: "server error", status: http.StatusInternalServerError, wantStatus: 500, wantLevel: "ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base, buf := logger.GetTestLogger(t)

			h := NewTraceMiddleware(base)(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.status != 0 {
					w.WriteHeader(tc.status)
				}
				_, _ = w.Write([]byte("ok"))
			})))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analyze", nil))

			entries, err := buf.GetLogEntries()
			require.NoError(t, err)
			require.Len(t, entries, 1)

			entry := entries[0]
			assert.Equal(t, "request completed", entry["msg"])
			assert.Equal(t, tc.wantLevel, entry["level"])
			assert.Equal(t, "/api/analyze", entry["path"])
			assert.Equal(t, tc.wantStatus, entry["status"])
			assert.Equal(t, float64(2), entry["bytes"])
			assert.NotEmpty(t, entry["trace_id"])
		})
	}
}

func TestRecoverer(t *testing.T) {
	t.Run("panic becomes a JSON 500", func(t *testing.T) {
		base, buf := logger.GetTestLogger(t)
		h := NewTraceMiddleware(base)(RequestLogger(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("lost connection to postgres://analyze:hunter22@db:5432/analyze")
		}))))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var body shared.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, shared.InternalErrorMessage, body.Error)
		assert.Equal(t, domain.KindInternal, body.Kind)
		assert.Equal(t, w.Header().Get(shared.TraceIDHeader), body.TraceID)

		entries, err := buf.GetLogEntries()
		require.NoError(t, err)

		var panicEntry, accessEntry map[string]any
		for _, e := range entries {
			switch e["msg"] {
			case "panic recovered":
				panicEntry = e
			case "request completed":
				accessEntry = e
			}
		}
		require.NotNil(t, panicEntry)
		assert.Equal(t, "ERROR", panicEntry["level"])
		assert.NotContains(t, panicEntry["panic"], "hunter22")
		assert.NotEmpty(t, panicEntry["stack"])

		require.NotNil(t, accessEntry, "access log still written after a panic")
		assert.Equal(t, float64(http.StatusInternalServerError), accessEntry["status"])
		assert.NotContains(t, buf.String(), "hunter22")
	})

	t.Run("abort handler panics pass through", func(t *testing.T) {
		h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})

	t.Run("no panic is untouched", func(t *testing.T) {
		h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
