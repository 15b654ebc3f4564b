package serve

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/thejerf/suture/v4"
	"golang.org/x/exp/slog"
)

const releaseTimeout = 30 * time.Second

var trackFilesOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gpxlog",
	Subsystem: "serve",
	Name:      "track_files_open",
})

// trackFiles keeps one writer.Logger per track file, running as a service
// under sup for as long as the file is in use. A released file stays in
// the map until its writer has stopped, so that at most one writer ever
// runs per file.
type trackFiles struct {
	sup     *suture.Supervisor
	options func(path string) (writer.Options, error)
	logger  *slog.Logger

	mut  sync.Mutex
	open map[string]*trackFile
}

type trackFile struct {
	logger *writer.Logger
	token  suture.ServiceToken
	used   time.Time

	// closed is non-nil once a release has started, and is closed when the
	// writer has stopped. Mutations submitted in between wait in pending.
	closed  chan struct{}
	pending []pendingMutation
}

type pendingMutation struct {
	mut  writer.Mutation
	done chan error
}

func newTrackFiles(sup *suture.Supervisor, options func(path string) (writer.Options, error), logger *slog.Logger) *trackFiles {
	return &trackFiles{
		sup:     sup,
		options: options,
		logger:  logger,
		open:    make(map[string]*trackFile),
	}
}

// Get returns the logger for path, starting one if needed. If path is
// being released Get waits for that to finish.
func (f *trackFiles) Get(path string) (*writer.Logger, error) {
	f.mut.Lock()
	defer f.mut.Unlock()

	for {
		tf, ok := f.open[path]
		if !ok {
			break
		}
		if tf.closed == nil {
			tf.used = time.Now()
			return tf.logger, nil
		}
		f.mut.Unlock()
		<-tf.closed
		f.mut.Lock()
	}

	tf, err := f.start(path)
	if err != nil {
		return nil, err
	}
	return tf.logger, nil
}

// Submit queues m for path without blocking. Mutations for a file that is
// being released are held, in order, and handed to a new writer once the
// old one has stopped.
func (f *trackFiles) Submit(path string, m writer.Mutation) <-chan error {
	f.mut.Lock()
	defer f.mut.Unlock()

	tf, ok := f.open[path]
	if ok && tf.closed != nil {
		done := make(chan error, 1)
		tf.pending = append(tf.pending, pendingMutation{mut: m, done: done})
		return done
	}
	if !ok {
		var err error
		if tf, err = f.start(path); err != nil {
			return failed(err)
		}
	}
	tf.used = time.Now()
	return tf.logger.Submit(m)
}

// start adds a running logger for path. Must be called with f.mut held.
func (f *trackFiles) start(path string) (*trackFile, error) {
	opts, err := f.options(path)
	if err != nil {
		return nil, fmt.Errorf("track file %s: %w", path, err)
	}
	l := writer.New(path, opts)
	tf := &trackFile{
		logger: l,
		token:  f.sup.Add(l),
		used:   time.Now(),
	}
	f.open[path] = tf
	trackFilesOpen.Set(float64(len(f.open)))
	f.logger.Debug("Opened track file", "path", path, "logger", l.String())
	return tf, nil
}

// Release stops the logger for path once its queue has been written, and
// returns when it has stopped.
func (f *trackFiles) Release(path string) {
	f.mut.Lock()
	tf, ok := f.open[path]
	if !ok {
		f.mut.Unlock()
		return
	}
	if tf.closed != nil {
		f.mut.Unlock()
		<-tf.closed
		return
	}
	tf.closed = make(chan struct{})
	f.mut.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := tf.logger.Flush(ctx); err != nil {
		f.logger.Warn("Flushing track file", "path", path, "error", err)
	}
	if err := f.sup.RemoveAndWait(tf.token, releaseTimeout); err != nil {
		f.logger.Warn("Stopping track file writer", "path", path, "error", err)
	}

	f.mut.Lock()
	delete(f.open, path)
	if len(tf.pending) > 0 {
		f.resubmit(path, tf.pending)
	}
	trackFilesOpen.Set(float64(len(f.open)))
	f.mut.Unlock()
	close(tf.closed)
	f.logger.Debug("Released track file", "path", path, "held", len(tf.pending))
}

// resubmit hands mutations held during a release to a new writer. Must be
// called with f.mut held.
func (f *trackFiles) resubmit(path string, pending []pendingMutation) {
	ntf, err := f.start(path)
	for _, p := range pending {
		if err != nil {
			p.done <- err
			continue
		}
		go forward(ntf.logger.Submit(p.mut), p.done)
	}
}

func forward(from <-chan error, to chan<- error) {
	to <- <-from
}

func failed(err error) <-chan error {
	c := make(chan error, 1)
	c <- err
	return c
}

// Expire releases files not used within maxIdle.
func (f *trackFiles) Expire(maxIdle time.Duration) {
	var idle []string
	f.mut.Lock()
	for path, tf := range f.open {
		if tf.closed == nil && time.Since(tf.used) > maxIdle {
			idle = append(idle, path)
		}
	}
	f.mut.Unlock()

	for _, path := range idle {
		f.Release(path)
	}
}

// Paths returns the files with a running writer, sorted.
func (f *trackFiles) Paths() []string {
	f.mut.Lock()
	defer f.mut.Unlock()
	paths := make([]string, 0, len(f.open))
	for path, tf := range f.open {
		if tf.closed == nil {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
