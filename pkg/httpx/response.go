package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dmehra2102/sweet-shop/pkg/apperr"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	User    any    `json:"user,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes {success:true, message, data}.
func Success(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, envelope{Success: true, Message: message, Data: data})
}

// SuccessUser writes {success:true, message, user}, the shape of the auth endpoints.
func SuccessUser(w http.ResponseWriter, status int, message string, user any) {
	JSON(w, status, envelope{Success: true, Message: message, User: user})
}

// Error renders err as the error envelope. Internal causes are logged and
// never leave the process.
func Error(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	e := apperr.As(err)
	status := e.Kind.HTTPStatus()

	switch e.Kind {
	case apperr.KindInternal:
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	case apperr.KindUnavailable:
		log.WarnContext(r.Context(), "store unavailable", "method", r.Method, "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", strconv.Itoa(1))
	default:
		if cause := errors.Unwrap(e); cause != nil {
			log.DebugContext(r.Context(), "request rejected", "kind", e.Kind.String(), "err", cause)
		}
	}

	JSON(w, status, envelope{Success: false, Message: e.Message, Errors: e.Details})
}

func NotFound(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusNotFound, envelope{Success: false, Message: "Route not found"})
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusMethodNotAllowed, envelope{Success: false, Message: "Method not allowed"})
}
