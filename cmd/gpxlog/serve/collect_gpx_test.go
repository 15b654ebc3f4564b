package serve

import (
	"path/filepath"
	"testing"
	"time"

	"calmh.dev/gpxlog/internal/gpx/reader"
	"golang.org/x/exp/slog"
)

func TestCollectGPX(t *testing.T) {
	files := startFiles(t)
	pattern := filepath.Join(t.TempDir(), "track-20060102.gpx")
	trk := newTrack(pattern, files, slog.Default())
	c := collectGPX(nil, trk, &sampler{interval: time.Second}, slog.Default())

	lines := []string{
		sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"),
		sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"),
		sentence("GPRMC,123521,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"), // invalid fix
		sentence("GPRMC,123522,A,4807.538,N,01131.000,E,022.4,084.4,230394,003.1,W"),
		"$GPRMC,garbage*00",
	}
	valid := 0
	for _, line := range lines {
		if c.handle(line) {
			valid++
		}
	}
	if valid != 2 {
		t.Error("expected two valid fixes, got", valid)
	}
	flushAll(t, files)

	path := time.Date(1994, 3, 23, 0, 0, 0, 0, time.UTC).Format(pattern)
	g, err := reader.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	segs := g.Segments()
	if len(segs) != 1 || len(segs[0]) != 2 {
		t.Fatal("expected one segment with two points, got", segs)
	}
	p := segs[0][0]
	if p.Lat < 48.117 || p.Lat > 48.118 || p.Lon < 11.516 || p.Lon > 11.517 {
		t.Error("bad position", p.Lat, p.Lon)
	}
	if p.Ele != 545.4 {
		t.Error("altitude from GGA should be attached, got", p.Ele)
	}
	if want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC); !p.Time.Equal(want) {
		t.Error("bad time", p.Time)
	}
}

func TestCollectGPXRotatesFiles(t *testing.T) {
	files := startFiles(t)
	pattern := filepath.Join(t.TempDir(), "track-20060102.gpx")
	trk := newTrack(pattern, files, slog.Default())
	c := collectGPX(nil, trk, &sampler{}, slog.Default())

	c.handle(sentence("GPRMC,235958,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	c.handle(sentence("GPRMC,000002,A,4807.538,N,01131.000,E,022.4,084.4,240394,003.1,W"))
	waitFiles(t, files, 1)
	flushAll(t, files)
	for _, day := range []int{23, 24} {
		path := time.Date(1994, 3, day, 0, 0, 0, 0, time.UTC).Format(pattern)
		g, err := reader.ParseFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if segs := g.Segments(); len(segs) != 1 || len(segs[0]) != 1 {
			t.Errorf("%s: expected one point, got %v", path, segs)
		}
	}
}
