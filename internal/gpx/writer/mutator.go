package writer

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"calmh.dev/gpxlog/internal/indexer"
	"golang.org/x/exp/slog"
)

// MimeType is what indexers are told the track file contains.
const MimeType = "application/gpx+xml"

// Mutator applies single mutations to a track file. It holds no state of
// its own; the segment state is passed in and the next state returned, and
// the caller is responsible for never running two mutations on the same
// file at once.
type Mutator struct {
	formatTime  func(int64) string
	now         func() time.Time
	escapeNames bool
	indexer     indexer.Indexer
	logger      *slog.Logger
	createTemp  func(dir, pattern string) (*os.File, error)
}

func NewMutator(opts Options) *Mutator {
	opts.setDefaults()
	return &Mutator{
		formatTime:  opts.FormatTime,
		now:         opts.Now,
		escapeNames: opts.EscapeNames,
		indexer:     opts.Indexer,
		logger:      opts.Logger,
		createTemp:  os.CreateTemp,
	}
}

// Apply writes m to the file at path. On error the file is untouched and
// the returned state equals state.
func (m *Mutator) Apply(path string, state SegmentState, mut Mutation) (SegmentState, error) {
	timeText := m.formatTime(mut.Sample.timestamp(m.now))

	next, err := m.apply(path, state, mut, timeText)
	if err != nil {
		writerMutations.WithLabelValues(mutationKind(mut), "error").Inc()
		return state, withPath(err, path)
	}
	writerMutations.WithLabelValues(mutationKind(mut), "ok").Inc()

	if err := m.indexer.Notify(path, MimeType); err != nil {
		writerIndexerFailures.Inc()
		m.logger.Warn("Notifying indexer", "path", path, "error", err)
	}
	return next, nil
}

// Reconcile checks the file tail against state before the first write of
// a session. A file that ends closed while state says open is adopted as
// closed; a file that ends in neither tail is a precondition violation.
// When the file ends in an open segment its points are counted, so that a
// point written but not recorded in state is taken into account.
// A missing file is fine, it will be created on the next write.
func (m *Mutator) Reconcile(path string, state SegmentState) (SegmentState, error) {
	fd, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	} else if err != nil {
		return state, &IOError{Op: "open", Path: path, Err: err}
	}
	defer fd.Close()

	info, err := fd.Stat()
	if err != nil {
		return state, &IOError{Op: "stat", Path: path, Err: err}
	}
	size := info.Size()

	if VerifyTail(fd, size, true) == nil {
		n, err := lastSegmentPoints(fd, size)
		if err != nil {
			return state, withPath(err, path)
		}
		if n < 0 {
			return state, nil
		}
		found := SegmentState{Open: true, Points: n}
		if n >= MaxSegmentPoints {
			found = SegmentState{}
		}
		if found != state {
			m.logger.Warn("Track file segment differs from stored state, adopting it", "path", path, "stored", state.Points, "found", n)
		}
		return found, nil
	}

	verr := VerifyTail(fd, size, state.Open)
	if verr == nil {
		return state, nil
	}
	if state.Open && VerifyTail(fd, size, false) == nil {
		m.logger.Warn("Track file has a closed segment, adopting it", "path", path, "points", state.Points)
		return SegmentState{}, nil
	}
	return state, withPath(verr, path)
}

// segmentWindow bounds how far from the end lastSegmentPoints looks for the
// start of the last segment. Segments are short; a full one is a few KiB.
const segmentWindow = 16 << 10

// lastSegmentPoints counts the track points after the last <trkseg> near
// the end of the file, or returns -1 if there is none within reach.
func lastSegmentPoints(r io.ReaderAt, size int64) (int, error) {
	n := min(size, segmentWindow)
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, size-n); err != nil && !errors.Is(err, io.EOF) {
		return 0, &IOError{Op: "read segment", Err: err}
	}
	idx := bytes.LastIndex(buf, []byte("<trkseg>"))
	if idx < 0 {
		return -1, nil
	}
	return bytes.Count(buf[idx:], []byte("<trkpt ")), nil
}

func (m *Mutator) apply(path string, state SegmentState, mut Mutation, timeText string) (SegmentState, error) {
	fd, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return m.bootstrap(path, mut, timeText)
	} else if err != nil {
		return state, &IOError{Op: "open", Err: err}
	}
	defer fd.Close()

	next, err := m.insert(fd, state, mut, timeText)
	if err != nil {
		return state, err
	}
	if err := fd.Close(); err != nil {
		return state, &IOError{Op: "close", Err: err}
	}
	return next, nil
}

// bootstrap creates a new document whose first point opens the first
// segment. A waypoint requested on the very first write is added on top,
// closing that segment again. The document is written to a temporary file
// and renamed into place, so a failed bootstrap leaves no file behind.
func (m *Mutator) bootstrap(path string, mut Mutation, timeText string) (SegmentState, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return SegmentState{}, &IOError{Op: "create directory", Err: err}
	}
	fd, err := m.createTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return SegmentState{}, &IOError{Op: "create", Err: err}
	}
	tmp := fd.Name()
	defer os.Remove(tmp)
	defer fd.Close()

	doc := RenderBootstrap(filepath.Base(path), timeText, RenderTrackPoint(mut.Sample, timeText, true))
	if _, err := fd.Write([]byte(doc)); err != nil {
		return SegmentState{}, &IOError{Op: "write", Err: err}
	}

	state := Bootstrap()
	if mut.isWaypoint() {
		state, err = m.insert(fd, state, mut, timeText)
		if err != nil {
			return SegmentState{}, err
		}
	}
	if err := fd.Chmod(0o644); err != nil {
		return SegmentState{}, &IOError{Op: "chmod", Err: err}
	}
	if err := fd.Close(); err != nil {
		return SegmentState{}, &IOError{Op: "close", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return SegmentState{}, &IOError{Op: "rename", Err: err}
	}

	writerFilesCreated.Inc()
	writerSegmentsOpened.Inc()
	writerBytesWritten.Add(float64(len(doc)))
	m.logger.Info("Created new GPX track", "path", path)
	return state, nil
}

// insert renders the fragment for mut and writes it over the tail in a
// single write. Everything that can fail short of the write itself is done
// first.
func (m *Mutator) insert(fd *os.File, state SegmentState, mut Mutation, timeText string) (SegmentState, error) {
	info, err := fd.Stat()
	if err != nil {
		return state, &IOError{Op: "stat", Err: err}
	}
	length := info.Size()
	if err := VerifyTail(fd, length, state.Open); err != nil {
		return state, err
	}
	offset, err := ResolveInsertOffset(length, state.Open)
	if err != nil {
		return state, err
	}

	var frag string
	var next SegmentState
	if mut.isWaypoint() {
		// Waypoints go at the single insertion point, inside <trk>.
		name := mut.Description
		if m.escapeNames {
			name = EscapeText(name)
		}
		frag = RenderWaypoint(mut.Sample, timeText, name) + TailClosed
		if state.Open {
			frag = "</trkseg>" + frag
		}
		next = state.AfterWaypoint()
	} else {
		frag = RenderTrackPoint(mut.Sample, timeText, !state.Open)
		if !state.Open {
			writerSegmentsOpened.Inc()
		}
		next = state.AfterTrackPoint()
	}

	if _, err := fd.WriteAt([]byte(frag), offset); err != nil {
		return state, &IOError{Op: "write", Err: err}
	}
	writerBytesWritten.Add(float64(len(frag)))
	return next, nil
}
