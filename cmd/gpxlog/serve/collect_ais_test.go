package serve

import (
	"path/filepath"
	"testing"
	"time"

	"calmh.dev/gpxlog/internal/gpx/reader"
	ais "github.com/BertoldVdb/go-ais"
	"golang.org/x/exp/slog"
)

func TestAISTrackPath(t *testing.T) {
	when := time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)
	got := aisTrackPath("ais/{mmsi}/20060102.gpx", 265012345, when)
	if got != "ais/265012345/20240516.gpx" {
		t.Error("bad path", got)
	}
}

func TestParseMMSIs(t *testing.T) {
	mmsis, err := parseMMSIs([]string{"265012345", " 219000001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mmsis) != 2 || mmsis[0] != 265012345 || mmsis[1] != 219000001 {
		t.Error("bad MMSIs", mmsis)
	}
	if _, err := parseMMSIs([]string{"boat"}); err == nil {
		t.Error("expected error")
	}
}

type testReport struct {
	ais.Header
	Latitude  float64
	Longitude float64
}

func TestPositionReport(t *testing.T) {
	pos, ok := positionReport(&testReport{
		Header:    ais.Header{MessageID: 1, UserID: 265012345},
		Latitude:  57.7,
		Longitude: 11.9,
	})
	if !ok || pos.mmsi != 265012345 || pos.class != "A" || pos.lat != 57.7 || pos.lon != 11.9 {
		t.Errorf("unexpected position %+v", pos)
	}

	pos, ok = positionReport(&testReport{Header: ais.Header{MessageID: 18, UserID: 219000001}, Latitude: 55.6, Longitude: 12.6})
	if !ok || pos.class != "B" {
		t.Errorf("unexpected position %+v", pos)
	}

	if _, ok := positionReport(&testReport{Header: ais.Header{MessageID: 18}, Latitude: 91, Longitude: 181}); ok {
		t.Error("unavailable position should be skipped")
	}
	if _, ok := positionReport(&testReport{Header: ais.Header{MessageID: 5}}); ok {
		t.Error("static data is not a position")
	}
}

func TestAISCollectorFollowsMMSIs(t *testing.T) {
	files := startFiles(t)
	pattern := filepath.Join(t.TempDir(), "ais-{mmsi}.gpx")
	c := collectAIS(nil, pattern, []uint32{265012345}, time.Second, files, slog.Default())

	now := time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.handle(aisPosition{mmsi: 265012345, class: "A", lat: 57.7, lon: 11.9})
	c.handle(aisPosition{mmsi: 219000001, class: "B", lat: 55.6, lon: 12.6})
	now = now.Add(2 * time.Second)
	c.handle(aisPosition{mmsi: 265012345, class: "A", lat: 57.71, lon: 11.9})
	flushAll(t, files)

	if paths := files.Paths(); len(paths) != 1 {
		t.Fatal("only followed MMSIs get a track, got", paths)
	}
	g, err := reader.ParseFile(aisTrackPath(pattern, 265012345, now))
	if err != nil {
		t.Fatal(err)
	}
	if segs := g.Segments(); len(segs) != 1 || len(segs[0]) != 2 {
		t.Error("expected two points, got", segs)
	}
	if len(c.contacts["A"]) != 1 || len(c.contacts["B"]) != 1 {
		t.Error("contacts not counted", c.contacts)
	}
}
