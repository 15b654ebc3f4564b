package serve

import (
	"testing"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
)

func TestSampler(t *testing.T) {
	base := time.Date(2024, 5, 16, 12, 0, 0, 0, time.UTC)
	at := func(secs int, lat float64) writer.Sample {
		return writer.SampleAt(lat, 11, base.Add(time.Duration(secs)*time.Second))
	}

	s := &sampler{interval: 10 * time.Second, minDistance: 25}

	cases := []struct {
		sample writer.Sample
		want   bool
	}{
		{at(0, 57), true},        // first fix
		{at(5, 57.01), false},    // within interval
		{at(10, 57.0001), false}, // about 11 m
		{at(20, 57.001), true},   // about 111 m
		{at(30, 57.001), false},  // not moving
		{at(31, 57.002), true},   // moved
		{at(32, 58), false},      // interval again
	}
	for i, c := range cases {
		if got := s.Sample(c.sample); got != c.want {
			t.Errorf("case %d: Sample() == %v, want %v", i, got, c.want)
		}
	}

	s.Reset()
	if !s.Sample(at(33, 57.002)) {
		t.Error("first fix after reset should be recorded")
	}
}
