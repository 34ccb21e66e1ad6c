package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/httpx"
)

type identityKey struct{}

// TokenValidator resolves an access token to the caller's identity.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (domain.Identity, error)
}

// Authenticate requires a valid access token from the accessToken cookie or
// an Authorization bearer header and stores the identity on the context.
func Authenticate(log *slog.Logger, v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := accessToken(r)
			if raw == "" {
				httpx.Error(w, r, log, apperr.Unauthenticated("Access token not found").WithCode("TOKEN_MISSING"))
				return
			}
			id, err := v.Validate(r.Context(), raw)
			if err != nil {
				httpx.Error(w, r, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				httpx.Error(w, r, log, apperr.Unauthenticated("Authentication required").WithCode("TOKEN_MISSING"))
				return
			}
			if !id.IsAdmin() {
				httpx.Error(w, r, log, apperr.Forbidden("Access denied. Admin privileges required."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// Subject is the idempotency scope for authenticated routes.
func Subject(r *http.Request) string {
	id, _ := IdentityFrom(r.Context())
	return id.AccountID.String()
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return ""
}
