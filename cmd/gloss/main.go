// Command gloss runs the retrieval layer's maintenance daemon: the aggregate
// view refresh workers and the staleness monitor. Deployments that embed the
// library directly in a serving process don't need it; run it when the view
// should converge even while no embedding process is up.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/glosshq/gloss"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("GLOSS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := gloss.New(
		gloss.WithVersion(version),
		gloss.WithLogger(logger),
	)
	if err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}

	if err := svc.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
