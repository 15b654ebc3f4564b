package writer

import "time"

// Sample is a single location fix as supplied by the location feed.
type Sample struct {
	Latitude    float64
	Longitude   float64
	Altitude    float64
	HasAltitude bool
	// Milliseconds since the Unix epoch. Zero or negative means "now".
	TimestampMillis int64
}

// SampleAt returns a Sample without altitude for the given time.
func SampleAt(lat, lon float64, when time.Time) Sample {
	var ms int64
	if !when.IsZero() {
		ms = when.UnixMilli()
	}
	return Sample{Latitude: lat, Longitude: lon, TimestampMillis: ms}
}

// WithAltitude returns a copy of s with the altitude set.
func (s Sample) WithAltitude(alt float64) Sample {
	s.Altitude = alt
	s.HasAltitude = true
	return s
}

// timestamp returns the sample time in milliseconds, substituting the
// current time for samples that lack one.
func (s Sample) timestamp(now func() time.Time) int64 {
	if s.TimestampMillis <= 0 {
		return now().UnixMilli()
	}
	return s.TimestampMillis
}

// Mutation is one unit of work for the writer. An empty Description writes a
// track point, anything else writes a waypoint named Description.
type Mutation struct {
	Sample      Sample
	Description string
}

func (m Mutation) isWaypoint() bool {
	return m.Description != ""
}
