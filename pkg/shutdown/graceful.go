package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DrainTimeout bounds how long in-flight work may run after a stop signal.
const DrainTimeout = 10 * time.Second

// WithSignals returns a context cancelled on SIGINT or SIGTERM. A second
// signal exits the process without waiting for the drain.
func WithSignals(ctx context.Context, log *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			log.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}
		if sig, ok := <-ch; ok {
			log.Warn("second signal, exiting now", "signal", sig.String())
			os.Exit(1)
		}
	}()

	return ctx, cancel
}

// Drain returns a context for shutdown work that is no longer tied to the
// cancelled parent.
func Drain(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), DrainTimeout)
}
