package serve

import (
	"sync"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	"golang.org/x/exp/slog"
)

// track writes to the file named by formatting each sample's time with
// pattern, moving on to a new file when the name changes.
type track struct {
	pattern string
	files   *trackFiles
	logger  *slog.Logger

	mut     sync.Mutex
	current string
	last    writer.Sample
	hasLast bool
}

func newTrack(pattern string, files *trackFiles, logger *slog.Logger) *track {
	return &track{pattern: pattern, files: files, logger: logger}
}

// Submit routes m to the current track file.
func (t *track) Submit(m writer.Mutation) <-chan error {
	when := time.Now()
	if m.Sample.TimestampMillis > 0 {
		when = time.UnixMilli(m.Sample.TimestampMillis)
	}
	name := when.UTC().Format(t.pattern)

	t.mut.Lock()
	prev := t.current
	t.current = name
	t.last = m.Sample
	t.hasLast = true
	t.mut.Unlock()

	if prev != "" && prev != name {
		t.logger.Info("Starting new track file", "previous", prev, "file", name)
		go t.files.Release(prev)
	}

	return t.files.Submit(name, m)
}

// Last returns the most recently submitted position.
func (t *track) Last() (writer.Sample, bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.last, t.hasLast
}

// Current returns the logger for the file being written, if any.
func (t *track) Current() (*writer.Logger, bool) {
	t.mut.Lock()
	name := t.current
	t.mut.Unlock()
	if name == "" {
		return nil, false
	}
	l, err := t.files.Get(name)
	if err != nil {
		return nil, false
	}
	return l, true
}
