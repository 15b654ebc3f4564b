package summarize

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"calmh.dev/gpxlog/internal/geometry"
	"calmh.dev/gpxlog/internal/gpx/reader"
	"github.com/tkrajina/gpxgo/gpx"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Files []string `arg:"" help:"GPX files to summarize" type:"existingfile"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	var all []track
	for _, file := range cli.Files {
		trk, err := load(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		logger.Debug("Loaded track", "file", file, "segments", len(trk.segments), "waypoints", len(trk.waypoints))
		all = append(all, trk)
	}
	summarize(os.Stdout, all)
	return nil
}

type track struct {
	name      string
	segments  []segment
	waypoints []reader.GPXPoint
}

type segment struct {
	points   []gpx.GPXPoint
	distance float64 // NM
}

// load reads the track geometry with gpxgo. Waypoints written inside <trk>
// are not part of GPX 1.0 proper and are picked up by our own reader.
func load(file string) (track, error) {
	g, err := gpx.ParseFile(file)
	if err != nil {
		return track{}, err
	}
	trk := track{name: file}
	for _, t := range g.Tracks {
		for _, seg := range t.Segments {
			if len(seg.Points) == 0 {
				continue
			}
			trk.segments = append(trk.segments, segment{
				points:   seg.Points,
				distance: seg.Length2D() / 1852,
			})
		}
	}

	r, err := reader.ParseFile(file)
	if err != nil {
		return track{}, err
	}
	trk.waypoints = r.AllWaypoints()
	return trk, nil
}

func summarize(w io.Writer, tracks []track) {
	var sog metric
	var totalDistance float64
	var totalPoints int

	for _, trk := range tracks {
		fmt.Fprintf(w, "%s\n", trk.name)
		for _, seg := range trk.segments {
			points := seg.points
			start := points[0]
			last := points[len(points)-1]
			td := last.Timestamp.Sub(start.Timestamp)

			fmt.Fprintf(w, "Start: %v\nEnd:   %v\nDuration: %s\nPoints: %d\n", start.Timestamp.Local(), last.Timestamp.Local(), td.Round(time.Second), len(points))

			for i := 1; i < len(points); i++ {
				prev, p := points[i-1], points[i]
				td := p.Timestamp.Sub(prev.Timestamp)
				if td <= 0 {
					continue
				}
				dist := geometry.Distance(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
				sog.record(dist/td.Hours(), td)
			}

			fmt.Fprintf(w, "Distance: %.2f NM\n---\n", seg.distance)
			totalDistance += seg.distance
			totalPoints += len(points)
		}

		for _, wpt := range trk.waypoints {
			fmt.Fprintf(w, "Waypoint: %s (%.5f, %.5f) at %v\n", wpt.Name, wpt.Lat, wpt.Lon, wpt.Time.Local())
		}
	}

	fmt.Fprintf(w, "Total: %d points, %.2f NM\n", totalPoints, totalDistance)
	if sog.dur > 0 {
		fmt.Fprintf(w, "SOG: %.1f kt avg (med %.1f kt, max %.1f kt)\n", sog.avg(), sog.med(), sog.max)
	}
}

type metric struct {
	sum      float64
	dur      time.Duration
	min      float64
	max      float64
	all      []float64
	notFirst bool
}

func (m *metric) record(val float64, dur time.Duration) {
	m.sum += val * dur.Seconds()
	m.dur += dur
	m.all = append(m.all, val)
	if !m.notFirst {
		m.max = val
		m.min = val
		m.notFirst = true
	} else {
		if val > m.max {
			m.max = val
		}
		if val < m.min {
			m.min = val
		}
	}
}

func (m *metric) avg() float64 {
	return m.sum / m.dur.Seconds()
}

func (m *metric) med() float64 {
	sort.Float64s(m.all)
	return m.all[len(m.all)/2]
}
