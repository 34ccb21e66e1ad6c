package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/sweet-shop/internal/account/application"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/httpx"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	cookies CookieOptions
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, cookies CookieOptions) *Handler {
	return &Handler{
		log:     log,
		service: service,
		cookies: cookies,
		tracer:  otel.Tracer("account-http"),
	}
}

type signupReq struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

// Routes mounts the /auth endpoints.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/signup", h.signup)
	r.Post("/login", h.login)
	r.Post("/refresh-token", h.refresh)
	r.Post("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.log, h.service))
		r.Get("/profile", h.profile)
	})
	return r
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Signup")
	defer span.End()

	var req signupReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	sess, err := h.service.Signup(ctx, application.SignupInput{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.setSession(w, sess)
	httpx.SuccessUser(w, http.StatusCreated, "User registered successfully.", sess.Account)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Login")
	defer span.End()

	var req loginReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	sess, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.setSession(w, sess)
	httpx.SuccessUser(w, http.StatusOK, "Login successful.", sess.Account)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RefreshToken")
	defer span.End()

	raw := ""
	if c, err := r.Cookie(RefreshCookie); err == nil {
		raw = c.Value
	}
	if raw == "" {
		var req refreshReq
		if err := httpx.Decode(w, r, &req); err != nil {
			httpx.Error(w, r, h.log, err)
			return
		}
		raw = req.RefreshToken
	}

	sess, err := h.service.Refresh(ctx, raw)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.cookies.set(w, AccessCookie, sess.AccessToken, h.cookies.AccessMaxAge)
	httpx.Success(w, http.StatusOK, "Token refreshed successfully.", nil)
}

// logout needs no valid access token: the refresh cookie alone identifies the
// session to revoke. Cookies are cleared whatever was presented.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Logout")
	defer span.End()

	revoked := false
	if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
		ok, err := h.service.Revoke(ctx, c.Value)
		if err != nil {
			httpx.Error(w, r, h.log, err)
			return
		}
		revoked = ok
	}
	if raw := accessToken(r); !revoked && raw != "" {
		id, err := h.service.Validate(ctx, raw)
		switch {
		case err == nil:
			if err := h.service.Logout(ctx, id); err != nil {
				httpx.Error(w, r, h.log, err)
				return
			}
		case !apperr.IsKind(err, apperr.KindAuthentication):
			httpx.Error(w, r, h.log, err)
			return
		}
	}

	h.cookies.clear(w, AccessCookie)
	h.cookies.clear(w, RefreshCookie)
	httpx.Success(w, http.StatusOK, "Logged out successfully.", nil)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		httpx.Error(w, r, h.log, apperr.Unauthenticated("Authentication required"))
		return
	}
	p, err := h.service.Profile(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.SuccessUser(w, http.StatusOK, "Profile fetched successfully.", p)
}

func (h *Handler) setSession(w http.ResponseWriter, sess application.Session) {
	h.cookies.set(w, AccessCookie, sess.AccessToken, h.cookies.AccessMaxAge)
	h.cookies.set(w, RefreshCookie, sess.RefreshToken, h.cookies.RefreshMaxAge)
}
