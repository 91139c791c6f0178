package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/phrazzld/analyze/internal/api/shared"
	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/platform/logger"
	"github.com/phrazzld/analyze/internal/redact"
)

// Recoverer turns a handler panic into a 500 with the standard JSON error
// body. The panic value is logged after redaction; http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.FromContext(r.Context()).LogAttrs(r.Context(), slog.LevelError, "panic recovered",
				slog.String("panic", redact.String(fmt.Sprint(rec))),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())))

			shared.RespondWithError(w, r, http.StatusInternalServerError, domain.KindInternal, shared.InternalErrorMessage)
		}()

		next.ServeHTTP(w, r)
	})
}
