// Package add appends a single point or waypoint to a track file.
package add

import (
	"context"
	"fmt"
	"math"
	"time"

	"calmh.dev/gpxlog/cmd/gpxlog/serve"
	"calmh.dev/gpxlog/internal/gpx/writer"
	"golang.org/x/exp/slog"
)

type CLI struct {
	File        string    `arg:"" help:"Track file to append to" type:"path"`
	Latitude    float64   `arg:"" help:"Latitude in decimal degrees"`
	Longitude   float64   `arg:"" help:"Longitude in decimal degrees"`
	Altitude    float64   `help:"Altitude in meters" default:"NaN" placeholder:"M"`
	Time        time.Time `help:"Time of the fix (RFC 3339, default now)" placeholder:"TIME"`
	Description string    `short:"d" help:"Write a waypoint with this name instead of a track point" placeholder:"TEXT"`

	serve.WriterOptions `embed:""`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	logger = logger.With("module", "add")

	options, closeOptions, err := cli.WriterOptions.Factory(logger)
	if err != nil {
		return err
	}
	defer closeOptions()

	opts, err := options(cli.File)
	if err != nil {
		return err
	}
	l := writer.New(cli.File, opts)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	s := writer.SampleAt(cli.Latitude, cli.Longitude, cli.Time)
	if !math.IsNaN(cli.Altitude) {
		s = s.WithAltitude(cli.Altitude)
	}

	select {
	case err := <-l.Submit(writer.Mutation{Sample: s, Description: cli.Description}):
		if err != nil {
			return fmt.Errorf("%s: %w", cli.File, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	st, err := l.State()
	if err != nil {
		return err
	}
	logger.Info("Appended", "file", cli.File, "segmentOpen", st.Open, "segmentPoints", st.Points)
	return nil
}
