package serve

import (
	"context"
	"testing"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	"calmh.dev/gpxlog/internal/session"
	nmea "github.com/adrianmo/go-nmea"
	"github.com/thejerf/suture/v4"
	"golang.org/x/exp/slog"
)

// startFiles returns a track file pool whose writers are running.
func startFiles(t *testing.T) *trackFiles {
	t.Helper()
	return startFilesWith(t, func(string) writer.Options {
		return writer.Options{Store: session.NewMemory()}
	})
}

func startFilesWith(t *testing.T, options func(path string) writer.Options) *trackFiles {
	t.Helper()
	sup := suture.NewSimple("test")
	ctx, cancel := context.WithCancel(context.Background())
	done := sup.ServeBackground(ctx)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return newTrackFiles(sup, func(path string) (writer.Options, error) {
		return options(path), nil
	}, slog.Default())
}

func flushAll(t *testing.T, files *trackFiles) {
	t.Helper()
	for _, path := range files.Paths() {
		l, err := files.Get(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Flush(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
}

// sentence adds the leading $ and the checksum to body.
func sentence(body string) string {
	return "$" + body + "*" + nmea.Checksum(body)
}

// waitFiles waits until n files have a writer, counting released files
// until their writer has stopped.
func waitFiles(t *testing.T, files *trackFiles, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		files.mut.Lock()
		open := len(files.open)
		files.mut.Unlock()
		if open == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d open files, have %d", n, open)
		}
		time.Sleep(time.Millisecond)
	}
}
