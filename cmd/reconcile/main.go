package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"invoice-recon/internal/adapters/cli"
	"invoice-recon/internal/bootstrap"
	"invoice-recon/internal/config"
	"invoice-recon/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// Logs go to stderr so command output stays clean.
	log := logging.NewWithWriter(cfg.LogLevel, cfg.Environment, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{Inline: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}

	actor := os.Getenv("RECONCILE_ACTOR")
	if actor == "" {
		actor = os.Getenv("USER")
	}
	if actor == "" {
		actor = "cli"
	}

	err = cli.Run(ctx, rt.Service, actor, os.Args[1:], os.Stdout)
	rt.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
