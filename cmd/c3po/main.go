// Command c3po runs the coordinator: the Agent Registry, Messaging
// Engine, and Authentication surface in a single process, addressed
// entirely by environment variables (spec.md §6). Unlike the teacher
// binary, there's no subcommand split between hub/worker/standalone here —
// agents are separate external processes per spec.md §1, so this binary
// only ever runs the one role.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c3po-dev/c3po/coordinator"
	"github.com/c3po-dev/c3po/internal/config"
	"github.com/c3po-dev/c3po/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	envPath := flag.String("env-file", ".env", "path to an optional .env file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*envPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(envPath string) error {
	cfg, err := config.Load(envPath)
	if err != nil {
		return err
	}

	if cfg.DevMode() {
		slog.Warn("no auth secrets configured, running in dev mode: all requests are anonymous")
	}

	logging.PrintBanner(version, cfg.Addr())
	logging.PrintAccessURL(cfg.Addr())

	server, err := coordinator.NewServer(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}
