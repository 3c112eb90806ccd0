// Package shutdown ties a graceful stop function to OS termination signals.
// The match binaries block in their main loop; this package runs the stop
// path off a signal and bounds how long it may take, so a wedged teardown
// cannot hold the process open.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGrace bounds a graceful stop when the caller has no opinion.
const DefaultGrace = 10 * time.Second

// OnSignal installs a SIGINT/SIGTERM handler that runs stop once. If stop
// has not returned within grace the process exits with status 1. A second
// signal during the grace window also exits immediately.
func OnSignal(logger zerolog.Logger, grace time.Duration, stop func() error) {
	if grace <= 0 {
		grace = DefaultGrace
	}
	signalChannel := make(chan os.Signal, 2)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalChannel
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		done := make(chan error, 1)
		go func() { done <- stop() }()

		select {
		case err := <-done:
			if err != nil {
				logger.Error().Err(err).Msg("graceful stop failed")
				os.Exit(1)
			}
		case sig = <-signalChannel:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, stopping hard")
			os.Exit(1)
		case <-time.After(grace):
			logger.Error().Dur("grace", grace).Msg("graceful stop timed out")
			os.Exit(1)
		}
	}()
}
