package idempotency

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/httpx"
)

const Header = "Idempotency-Key"

const (
	maxKeyLen      = 128
	releaseTimeout = 2 * time.Second
)

// Middleware rejects a repeated Idempotency-Key. subject returns the caller
// the key is scoped to; requests without the header pass through. The key is
// released again when the handler does not answer 2xx, so a failed request
// can be retried with the same key.
func Middleware(log *slog.Logger, checker Checker, scope string, subject func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(Header))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLen {
				httpx.Error(w, r, log, apperr.FieldValidation(Header, "Idempotency-Key cannot exceed 128 characters"))
				return
			}
			reqKey := RequestKey(scope, subject(r), key)
			seen, err := checker.Seen(r.Context(), reqKey)
			if err != nil {
				httpx.Error(w, r, log, apperr.Unavailable(err))
				return
			}
			if seen {
				httpx.Error(w, r, log, apperr.Conflict("Duplicate request").WithCode("DUPLICATE_REQUEST"))
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			completed := false
			defer func() {
				status := ww.Status()
				if completed && status == 0 {
					status = http.StatusOK
				}
				if status >= 200 && status < 300 {
					return
				}
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), releaseTimeout)
				defer cancel()
				if err := checker.Forget(ctx, reqKey); err != nil {
					log.WarnContext(ctx, "idempotency key release failed", "scope", scope, "status", status, "err", err)
				}
			}()
			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}
