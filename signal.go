package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	stsync "github.com/tonimelisma/stitchkeep/internal/sync"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal lets the session flush
// pending writes; the second lets the user quit if the flush hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, flushing and shutting down",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal: force exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// lifecycleSignals turns SIGUSR1 ("the app went to the background", sent by
// a wrapper or window manager hook) into visibility-hidden events. The
// channel closes when ctx is canceled. Shutdown signals are handled by
// shutdownContext, whose cancellation the session treats as before-unload.
func lifecycleSignals(ctx context.Context, logger *slog.Logger) <-chan stsync.LifecycleEvent {
	out := make(chan stsync.LifecycleEvent, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)

	go func() {
		defer close(out)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				logger.Debug("lifecycle signal", slog.String("signal", sig.String()))

				select {
				case out <- stsync.EventVisibilityHidden:
				default:
					// A flush is already queued.
				}
			}
		}
	}()

	return out
}
