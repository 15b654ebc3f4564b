package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"calmh.dev/gpxlog/cmd/gpxlog/add"
	"calmh.dev/gpxlog/cmd/gpxlog/follow"
	"calmh.dev/gpxlog/cmd/gpxlog/serve"
	"calmh.dev/gpxlog/cmd/gpxlog/summarize"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Serve     serve.CLI     `cmd:"" default:"" help:"Log incoming NMEA positions to GPX tracks"`
	Add       add.CLI       `cmd:"" help:"Append a single point or waypoint to a track file"`
	Summarize summarize.CLI `cmd:"" help:"Summarize GPX files"`
	Follow    follow.CLI    `cmd:"" help:"Print points as they are appended to a track file"`

	Debug bool `help:"Enable debug logging" env:"GPXLOG_DEBUG"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.Bind(logger)
	if err := kctx.Run(); err != nil {
		logger.Error("Failed", "error", err)
		os.Exit(1)
	}
}
