package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "invoice-recon/internal/adapters/web"
	"invoice-recon/internal/bootstrap"
	"invoice-recon/internal/config"
	"invoice-recon/internal/logging"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	// Workers outlive the signal context so queued invoices can drain during shutdown.
	rt.Processor.Start(context.WithoutCancel(ctx), rt.Service.ProcessInvoice)

	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: webAdapter.NewHandler(rt.Service, webAdapter.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			MaxUploadBytes: cfg.MaxUploadBytes,
			JWTSecret:      cfg.JWTSecret,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Msg("server starting")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	rt.Processor.Shutdown(shutdownCtx)
}
