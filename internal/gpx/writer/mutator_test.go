package writer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calmh.dev/gpxlog/internal/gpx/reader"
)

func TestMutatorBootstrapDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "2024-05-16.gpx")
	m := NewMutator(Options{FormatTime: func(int64) string { return "T" }})

	next, err := m.Apply(path, SegmentState{}, Mutation{Sample: Sample{Latitude: 51.5, Longitude: -0.1275}})
	if err != nil {
		t.Fatal(err)
	}
	if next != Bootstrap() {
		t.Error("bad state", next)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte(`<?xml version="1.0" encoding="UTF-8" ?>`)) {
		t.Errorf("missing declaration:\n%s", data)
	}
	want := "<trk><name>2024-05-16.gpx</name><trkseg>\n" +
		`<trkpt lat="51.5" lon="-0.1275"><ele>0.0</ele><time>T</time></trkpt>` + "\n" + TailOpen
	if !strings.HasSuffix(string(data), want) {
		t.Errorf("unexpected document tail:\n%s", data)
	}
}

func TestMutatorSingleWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.gpx")
	m := NewMutator(Options{FormatTime: func(int64) string { return "T" }})

	state, err := m.Apply(path, SegmentState{}, Mutation{Sample: Sample{Latitude: 1, Longitude: 2}})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	state, err = m.Apply(path, state, Mutation{Sample: Sample{Latitude: 3, Longitude: 4}})
	if err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(path)

	prefix := before[:len(before)-len(TailOpen)]
	if !bytes.HasPrefix(after, prefix) {
		t.Fatal("content before the tail was changed")
	}
	added := string(after[len(prefix):])
	want := `<trkpt lat="3.0" lon="4.0"><ele>0.0</ele><time>T</time></trkpt>` + "\n" + TailOpen
	if added != want {
		t.Errorf("inserted %q, want %q", added, want)
	}
	if state != (SegmentState{Open: true, Points: 2}) {
		t.Error("bad state", state)
	}
}

func TestMutatorRolloverTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.gpx")
	m := NewMutator(Options{})

	state := SegmentState{}
	var err error
	for i := 0; i < MaxSegmentPoints; i++ {
		state, err = m.Apply(path, state, Mutation{Sample: sample(i)})
		if err != nil {
			t.Fatal(i, err)
		}
	}
	if state.Open {
		t.Fatal("segment should be closed after", MaxSegmentPoints, "points")
	}

	// The closed file still ends in the open tail; the next point inserts
	// a new segment after </trkseg>.
	state, err = m.Apply(path, state, Mutation{Sample: sample(MaxSegmentPoints)})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Contains(data, []byte("</trkpt>\n</trkseg><trkseg>\n<trkpt")) {
		t.Errorf("new segment not placed after the closed one:\n%s", data)
	}
	if state != (SegmentState{Open: true, Points: 1}) {
		t.Error("bad state", state)
	}
}

func TestMutatorPreconditionLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.gpx")
	m := NewMutator(Options{})

	state, err := m.Apply(path, SegmentState{}, Mutation{Sample: sample(0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Apply(path, state, Mutation{Sample: sample(1), Description: "here"}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// The file now ends closed; an open state does not match it.
	bad := SegmentState{Open: true, Points: 3}
	got, err := m.Apply(path, bad, Mutation{Sample: sample(2)})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatal("expected precondition violation, got", err)
	}
	if got != bad {
		t.Error("state should be returned unchanged on error", got)
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Error("file modified despite precondition violation")
	}
}

func TestMutatorIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(blocker, "track.gpx")

	m := NewMutator(Options{})
	_, err := m.Apply(path, SegmentState{}, Mutation{Sample: sample(0)})
	if !errors.Is(err, ErrIO) {
		t.Fatal("expected I/O error, got", err)
	}
	var ie *IOError
	if !errors.As(err, &ie) || ie.Path != path {
		t.Error("I/O error should carry the path", err)
	}
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	m := NewMutator(Options{})

	missing := filepath.Join(dir, "missing.gpx")
	if st, err := m.Reconcile(missing, SegmentState{Open: true, Points: 4}); err != nil || st != (SegmentState{Open: true, Points: 4}) {
		t.Error("missing file should keep the state", st, err)
	}

	open := filepath.Join(dir, "open.gpx")
	st, _ := m.Apply(open, SegmentState{}, Mutation{Sample: sample(0)})
	if got, err := m.Reconcile(open, st); err != nil || got != st {
		t.Error("matching tail should keep the state", got, err)
	}
	// A closed state accepts an open tail when the segment is full, since
	// a rolled over segment leaves one behind.
	full := filepath.Join(dir, "full.gpx")
	st = SegmentState{}
	for i := 0; i < MaxSegmentPoints; i++ {
		st, _ = m.Apply(full, st, Mutation{Sample: sample(i)})
	}
	if got, err := m.Reconcile(full, SegmentState{}); err != nil || got != (SegmentState{}) {
		t.Error("closed state on full segment", got, err)
	}

	closed := filepath.Join(dir, "closed.gpx")
	if _, err := m.Apply(closed, SegmentState{}, Mutation{Sample: sample(0), Description: "wpt"}); err != nil {
		t.Fatal(err)
	}
	if got, err := m.Reconcile(closed, SegmentState{Open: true, Points: 7}); err != nil || got != (SegmentState{}) {
		t.Error("open state on closed tail should be adopted as closed", got, err)
	}

	foreign := filepath.Join(dir, "foreign.gpx")
	_ = os.WriteFile(foreign, []byte("<gpx version=\"1.0\"></gpx>\n"), 0o644)
	for _, open := range []bool{true, false} {
		if _, err := m.Reconcile(foreign, SegmentState{Open: open}); !errors.Is(err, ErrPrecondition) {
			t.Error("foreign file should be a precondition violation, got", err)
		}
	}
}

func TestReconcileRecountsOpenSegment(t *testing.T) {
	dir := t.TempDir()
	m := NewMutator(Options{})

	write := func(name string, n int) string {
		path := filepath.Join(dir, name)
		st := SegmentState{}
		for i := 0; i < n; i++ {
			var err error
			if st, err = m.Apply(path, st, Mutation{Sample: sample(i)}); err != nil {
				t.Fatal(err)
			}
		}
		return path
	}

	cases := []struct {
		points int
		stored SegmentState
		want   SegmentState
	}{
		// The 20th point was written but the state still says 19.
		{MaxSegmentPoints, SegmentState{Open: true, Points: MaxSegmentPoints - 1}, SegmentState{}},
		// The first point of a segment was written but not recorded.
		{1, SegmentState{}, SegmentState{Open: true, Points: 1}},
		{3, SegmentState{Open: true, Points: 2}, SegmentState{Open: true, Points: 3}},
		{3, SegmentState{Open: true, Points: 3}, SegmentState{Open: true, Points: 3}},
	}
	for i, tc := range cases {
		path := write(fmt.Sprintf("track-%d.gpx", i), tc.points)
		got, err := m.Reconcile(path, tc.stored)
		if err != nil {
			t.Fatal(i, err)
		}
		if got != tc.want {
			t.Errorf("%d: got %+v, want %+v", i, got, tc.want)
		}
	}

	// After adopting a full segment the next point starts a new one.
	path := write("rollover.gpx", MaxSegmentPoints)
	st, _ := m.Reconcile(path, SegmentState{Open: true, Points: MaxSegmentPoints - 1})
	if _, err := m.Apply(path, st, Mutation{Sample: sample(MaxSegmentPoints)}); err != nil {
		t.Fatal(err)
	}
	g, err := reader.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if segs := g.Segments(); len(segs) != 2 || len(segs[0]) != MaxSegmentPoints || len(segs[1]) != 1 {
		t.Error("unexpected segments after recount", len(segs))
	}
}

func TestMutatorFailedBootstrapLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.gpx")
	m := NewMutator(Options{})

	// A file opened read only fails every write, like a full disk.
	m.createTemp = func(dir, pattern string) (*os.File, error) {
		fd, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		name := fd.Name()
		fd.Close()
		return os.Open(name)
	}
	if _, err := m.Apply(path, SegmentState{}, Mutation{Sample: sample(0)}); !errors.Is(err, ErrIO) {
		t.Fatal("expected I/O error, got", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatal("failed bootstrap left files behind:", entries[0].Name())
	}

	m.createTemp = os.CreateTemp
	st, err := m.Apply(path, SegmentState{}, Mutation{Sample: sample(1)})
	if err != nil {
		t.Fatal(err)
	}
	if st != Bootstrap() {
		t.Error("bad state", st)
	}
	g, err := reader.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if segs := g.Segments(); len(segs) != 1 || len(segs[0]) != 1 {
		t.Error("expected a fresh single point document", segs)
	}
}
