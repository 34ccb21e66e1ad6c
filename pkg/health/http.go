package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmehra2102/sweet-shop/pkg/httpx"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type checkResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Handler reports 200 when every dependency answers and 503 otherwise.
func Handler(log *slog.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := checkResult{Status: "ok", Checks: make(map[string]string, len(deps))}
		status := http.StatusOK
		for name, p := range deps {
			if err := p.Ping(r.Context()); err != nil {
				log.WarnContext(r.Context(), "health check failed", "dependency", name, "err", err)
				res.Checks[name] = "down"
				res.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			res.Checks[name] = "up"
		}
		httpx.JSON(w, status, res)
	}
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
