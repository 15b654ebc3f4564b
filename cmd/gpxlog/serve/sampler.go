package serve

import (
	"time"

	"calmh.dev/gpxlog/internal/geometry"
	"calmh.dev/gpxlog/internal/gpx/writer"
)

const metersPerNM = 1852

// sampler decides which fixes become track points: at most one per
// interval, and only when the position has moved at least minDistance
// meters since the last recorded point.
type sampler struct {
	interval    time.Duration
	minDistance float64

	last    writer.Sample
	hasLast bool
}

func (s *sampler) Sample(fix writer.Sample) bool {
	if !s.hasLast {
		s.last, s.hasLast = fix, true
		return true
	}

	if time.Duration(fix.TimestampMillis-s.last.TimestampMillis)*time.Millisecond < s.interval {
		return false
	}
	if distanceMeters(s.last, fix) < s.minDistance {
		return false
	}

	s.last = fix
	return true
}

// Reset makes the next fix be recorded regardless of time and distance.
func (s *sampler) Reset() {
	s.hasLast = false
}

func distanceMeters(a, b writer.Sample) float64 {
	return geometry.Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude) * metersPerNM
}
