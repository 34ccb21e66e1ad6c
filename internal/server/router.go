// Package server assembles the storefront HTTP surface.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	accountapp "github.com/dmehra2102/sweet-shop/internal/account/application"
	accounthttp "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/http"
	catalogapp "github.com/dmehra2102/sweet-shop/internal/catalog/application"
	cataloghttp "github.com/dmehra2102/sweet-shop/internal/catalog/infrastructure/http"
	orderapp "github.com/dmehra2102/sweet-shop/internal/order/application"
	orderhttp "github.com/dmehra2102/sweet-shop/internal/order/infrastructure/http"
	"github.com/dmehra2102/sweet-shop/pkg/health"
	"github.com/dmehra2102/sweet-shop/pkg/httpx"
	"github.com/dmehra2102/sweet-shop/pkg/idempotency"
)

type Deps struct {
	Log         *slog.Logger
	Accounts    *accountapp.Service
	Catalog     *catalogapp.Service
	Orders      *orderapp.Service
	Idempotency idempotency.Checker
	Cookies     accounthttp.CookieOptions
	CORSOrigins []string
	Health      map[string]health.Pinger
}

// NewRouter mounts /healthz and the /api/v1 resources.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(d.Log))
	r.Use(httpx.Recoverer(d.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotency.Header},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)

	r.Get("/healthz", health.Handler(d.Log, d.Health))

	authn := accounthttp.Authenticate(d.Log, d.Accounts)
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/auth", accounthttp.NewHandler(d.Log, d.Accounts, d.Cookies).Routes())
		r.Mount("/sweets", cataloghttp.NewHandler(d.Log, d.Catalog, authn, d.Idempotency).Routes())
		r.Mount("/orders", orderhttp.NewHandler(d.Log, d.Orders, authn, d.Idempotency).Routes())
	})
	return r
}
