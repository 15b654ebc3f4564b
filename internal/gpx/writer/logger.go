package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calmh.dev/gpxlog/internal/indexer"
	"calmh.dev/gpxlog/internal/session"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const DefaultQueueSize = 128

// Overflow decides what happens to a mutation submitted while the queue is
// full. Every overflow is logged and counted.
type Overflow int

const (
	// DropNewest rejects the mutation being submitted.
	DropNewest Overflow = iota
	// DropOldest rejects the oldest queued mutation to make room.
	DropOldest
	// CallerRuns applies the mutation on the submitting goroutine. Writes
	// stay mutually exclusive but are no longer in submission order.
	CallerRuns
)

func (o Overflow) String() string {
	switch o {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	case CallerRuns:
		return "caller-runs"
	default:
		return fmt.Sprintf("overflow(%d)", int(o))
	}
}

func ParseOverflow(s string) (Overflow, error) {
	for _, o := range []Overflow{DropNewest, DropOldest, CallerRuns} {
		if o.String() == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

type Options struct {
	Store       session.Store
	Indexer     indexer.Indexer
	Logger      *slog.Logger
	QueueSize   int
	Overflow    Overflow
	FormatTime  func(epochMillis int64) string
	Now         func() time.Time
	EscapeNames bool
}

func (o *Options) setDefaults() {
	if o.Store == nil {
		o.Store = session.NewMemory()
	}
	if o.Indexer == nil {
		o.Indexer = indexer.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.FormatTime == nil {
		o.FormatTime = ISODateTime
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type job struct {
	mut     Mutation
	done    chan error
	barrier bool
}

// Logger appends samples to one GPX track file. Submissions never block;
// a single worker, run by Serve, applies them in order.
type Logger struct {
	id       string
	path     string
	store    session.Store
	mutator  *Mutator
	overflow Overflow
	logger   *slog.Logger
	queue    chan job

	// mut is held while a mutation is applied, by the worker or by a
	// caller under CallerRuns.
	mut        sync.Mutex
	reconciled bool

	// Submissions hold stopMut for reading while they enqueue. Serve takes
	// it for writing to set stopped, after which nothing more is queued.
	stopMut  sync.RWMutex
	stopped  bool
	stopping chan struct{}
	stopOnce sync.Once
}

func New(path string, opts Options) *Logger {
	opts.setDefaults()
	id := uuid.NewString()
	opts.Logger = opts.Logger.With("module", "gpx-writer", "file", path, "instance", id[:8])
	return &Logger{
		id:       id,
		path:     path,
		store:    opts.Store,
		mutator:  NewMutator(opts),
		overflow: opts.Overflow,
		logger:   opts.Logger,
		queue:    make(chan job, opts.QueueSize),
		stopping: make(chan struct{}),
	}
}

func (l *Logger) String() string {
	return fmt.Sprintf("gpx-logger(%q)@%s", l.path, l.id[:8])
}

// Name returns the format name.
func (l *Logger) Name() string {
	return "GPX"
}

func (l *Logger) Path() string {
	return l.path
}

// QueueLen returns the number of mutations waiting for the worker.
func (l *Logger) QueueLen() int {
	return len(l.queue)
}

// Write queues a track point.
func (l *Logger) Write(s Sample) {
	l.submit(job{mut: Mutation{Sample: s}})
}

// Annotate queues a waypoint named description.
func (l *Logger) Annotate(description string, s Sample) {
	l.submit(job{mut: Mutation{Sample: s, Description: description}})
}

// Submit queues m and returns a channel that receives the outcome once:
// nil, the mutation error, or ErrQueueFull.
func (l *Logger) Submit(m Mutation) <-chan error {
	done := make(chan error, 1)
	l.submit(job{mut: m, done: done})
	return done
}

// Flush waits until every mutation queued before it has been applied. It
// returns ErrClosed once the worker has stopped.
func (l *Logger) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	l.stopMut.RLock()
	if l.stopped {
		l.stopMut.RUnlock()
		return ErrClosed
	}
	select {
	case l.queue <- job{barrier: true, done: done}:
		writerQueueDepth.Inc()
		l.stopMut.RUnlock()
	case <-l.stopping:
		l.stopMut.RUnlock()
		return ErrClosed
	case <-ctx.Done():
		l.stopMut.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the segment state as currently persisted.
func (l *Logger) State() (SegmentState, error) {
	return l.loadState()
}

// Serve runs the worker until ctx is cancelled. Mutations already queued
// at that point are applied before Serve returns; later ones are rejected
// with ErrClosed.
func (l *Logger) Serve(ctx context.Context) error {
	for {
		select {
		case j := <-l.queue:
			writerQueueDepth.Dec()
			l.run(j)

		case <-ctx.Done():
			l.stop()
			l.drain()
			return ctx.Err()
		}
	}
}

func (l *Logger) stop() {
	l.stopOnce.Do(func() { close(l.stopping) })
	l.stopMut.Lock()
	l.stopped = true
	l.stopMut.Unlock()
}

func (l *Logger) drain() {
	for {
		select {
		case j := <-l.queue:
			writerQueueDepth.Dec()
			l.run(j)
		default:
			return
		}
	}
}

func (l *Logger) submit(j job) {
	l.stopMut.RLock()
	defer l.stopMut.RUnlock()
	if l.stopped {
		writerRejectedClosed.Inc()
		l.logger.Warn("Track writer is stopped, dropping mutation", "kind", mutationKind(j.mut))
		if j.done != nil {
			j.done <- ErrClosed
		}
		return
	}

	select {
	case l.queue <- j:
		writerQueueDepth.Inc()
		return
	default:
	}

	switch l.overflow {
	case DropOldest:
		for {
			select {
			case old := <-l.queue:
				writerQueueDepth.Dec()
				l.reject(old)
			default:
			}
			select {
			case l.queue <- j:
				writerQueueDepth.Inc()
				return
			default:
			}
		}

	case CallerRuns:
		writerQueueRejected.WithLabelValues(l.overflow.String()).Inc()
		l.logger.Warn("Write queue full, writing on caller", "queued", len(l.queue))
		l.run(j)

	default:
		l.reject(j)
	}
}

func (l *Logger) reject(j job) {
	writerQueueRejected.WithLabelValues(l.overflow.String()).Inc()
	l.logger.Warn("Write queue full, dropping mutation", "policy", l.overflow.String(), "kind", mutationKind(j.mut))
	if j.done != nil {
		j.done <- ErrQueueFull
	}
}

func (l *Logger) run(j job) {
	l.mut.Lock()
	defer l.mut.Unlock()

	if j.barrier {
		j.done <- nil
		return
	}

	err := l.apply(j.mut)
	if err != nil {
		l.logger.Error("Writing to track", "kind", mutationKind(j.mut), "error", err)
	}
	if j.done != nil {
		j.done <- err
	}
}

// apply performs one mutation: load state, check the file on first use,
// mutate, persist the new state. Must be called with l.mut held.
func (l *Logger) apply(m Mutation) error {
	state, err := l.loadState()
	if err != nil {
		writerStateFailures.Inc()
		return err
	}

	if !l.reconciled {
		rec, err := l.mutator.Reconcile(l.path, state)
		if err != nil {
			return err
		}
		if rec != state {
			if err := l.storeState(state, rec); err != nil {
				writerStateFailures.Inc()
				return err
			}
			state = rec
		}
		l.reconciled = true
	}

	// The file is written before the state is stored. If the process dies
	// in between, Reconcile recounts the open segment on the next start.
	next, err := l.mutator.Apply(l.path, state, m)
	if err != nil {
		return err
	}
	if err := l.storeState(state, next); err != nil {
		// The file has been written; make sure the next write checks it
		// against whatever state did get stored.
		writerStateFailures.Inc()
		l.reconciled = false
		return err
	}
	return nil
}

func (l *Logger) loadState() (SegmentState, error) {
	open, err := l.store.IsSegmentOpen()
	if err != nil {
		return SegmentState{}, fmt.Errorf("load segment state: %w", err)
	}
	points, err := l.store.PointCount()
	if err != nil {
		return SegmentState{}, fmt.Errorf("load segment state: %w", err)
	}
	return SegmentState{Open: open, Points: points}, nil
}

// storeState writes the difference between cur and next to the store.
func (l *Logger) storeState(cur, next SegmentState) error {
	if next.Open != cur.Open {
		if err := l.store.SetSegmentOpen(next.Open); err != nil {
			return fmt.Errorf("store segment state: %w", err)
		}
	}

	switch {
	case next.Points == cur.Points:
	case next.Points == cur.Points+1:
		if _, err := l.store.NextPointCount(); err != nil {
			return fmt.Errorf("store segment state: %w", err)
		}
	default:
		if err := l.store.ClearPointCount(); err != nil {
			return fmt.Errorf("store segment state: %w", err)
		}
		for i := 0; i < next.Points; i++ {
			if _, err := l.store.NextPointCount(); err != nil {
				return fmt.Errorf("store segment state: %w", err)
			}
		}
	}
	return nil
}
