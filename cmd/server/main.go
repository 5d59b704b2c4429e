// Command server starts the kikuai gateway: it loads configuration, wires
// every component via pkg/app, and serves the HTTP surface until an
// interrupt or terminate signal triggers a graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiku-jw/kikuai-gateway/internal/config"
	"github.com/kiku-jw/kikuai-gateway/pkg/app"
)

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to config YAML (optional; env overrides still apply)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A malformed .env is worth knowing about; a missing one is the norm in prod.
		os.Stderr.WriteString("warning: failed to load .env: " + err.Error() + "\n")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config: " + err.Error())
	}

	application, err := app.New(cfg)
	if err != nil {
		fatal("app: " + err.Error())
	}
	defer func() {
		if err := application.Close(); err != nil {
			application.Logger.Error().Err(err).Msg("main.shutdown_cleanup_failed")
		}
	}()

	application.Logger.Info().
		Str("address", cfg.Server.Address).
		Str("environment", cfg.Logging.Environment).
		Msg("main.starting")

	serveErr := make(chan error, 1)
	go func() {
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			application.Logger.Fatal().Err(err).Msg("main.listen_failed")
		}
	case s := <-sig:
		application.Logger.Info().Str("signal", s.String()).Msg("main.shutting_down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Server.Shutdown(ctx); err != nil {
			application.Logger.Error().Err(err).Msg("main.graceful_shutdown_failed")
		}
		<-serveErr
	}
}

func fatal(msg string) {
	os.Stderr.WriteString(msg + "\n")
	os.Exit(1)
}
