// Package follow prints track points and waypoints as they are appended to
// a track file.
package follow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"calmh.dev/gpxlog/internal/gpx/reader"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slog"
)

type CLI struct {
	File string `arg:"" help:"Track file to follow" type:"path"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	logger = logger.With("module", "follow", "file", cli.File)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so that we see the file being created.
	if err := watcher.Add(filepath.Dir(cli.File)); err != nil {
		return err
	}

	f := &follower{path: cli.File}
	if err := f.update(os.Stdout); err != nil {
		logger.Warn("Reading track", "error", err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(cli.File) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				logger.Info("Track file went away")
				f.reset()
				continue
			}
			if err := f.update(os.Stdout); err != nil {
				// Mid-write reads can fail; the next event will catch up.
				logger.Debug("Reading track", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watching track", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

// follower remembers how much of the track has been printed.
type follower struct {
	path      string
	points    int
	waypoints int
}

func (f *follower) reset() {
	f.points, f.waypoints = 0, 0
}

// update prints the points and waypoints added since the last call.
func (f *follower) update(w io.Writer) error {
	g, err := reader.ParseFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	n := 0
	for i, seg := range g.Segments() {
		for _, p := range seg {
			n++
			if n > f.points {
				fmt.Fprintf(w, "%s  seg %d  %.5f %.5f  %.1f m\n", p.Time.Format(time.RFC3339), i+1, p.Lat, p.Lon, p.Ele)
			}
		}
	}
	if n < f.points {
		// Truncated or replaced under us.
		f.reset()
		return f.update(w)
	}
	f.points = n

	wpts := g.AllWaypoints()
	for _, p := range wpts[min(f.waypoints, len(wpts)):] {
		fmt.Fprintf(w, "%s  wpt    %.5f %.5f  %s\n", p.Time.Format(time.RFC3339), p.Lat, p.Lon, p.Name)
	}
	f.waypoints = len(wpts)
	return nil
}
