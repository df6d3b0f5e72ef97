package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/genbilling/internal/app/reconciler"
	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := reconciler.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize reconciler", sl.Err(err))
		os.Exit(1)
	}

	if *once {
		app.RunOnce(ctx)
		app.Close()
		return
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("reconciler stopped with error", sl.Err(err))
		os.Exit(1)
	}
	logger.Info("reconciler stopped gracefully")
}
