package serve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slog"
)

var (
	gpxPositionsSampled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "gpx",
		Name:      "sampled_positions_total",
	})
	gpxPositionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "gpx",
		Name:      "record_positions_total",
	})
	gpxInputMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "gpx",
		Name:      "input_messages_total",
	})
	gpxBadMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "gpx",
		Name:      "bad_messages_total",
	})
	gpxUnsupportedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "gpx",
		Name:      "unsupported_messages_total",
	})
)

// Altitude from GGA is attached to positions for this long.
const altitudeRetention = 10 * time.Second

// gpxCollector turns position sentences into track points.
type gpxCollector struct {
	c       <-chan string
	track   *track
	sampler *sampler
	logger  *slog.Logger

	altitude   float64
	altitudeAt time.Time
	date       nmea.Date
}

func collectGPX(c <-chan string, t *track, s *sampler, logger *slog.Logger) *gpxCollector {
	return &gpxCollector{
		c:       c,
		track:   t,
		sampler: s,
		logger:  logger.With("module", "gpx-collector"),
	}
}

func (c *gpxCollector) String() string {
	return fmt.Sprintf("gpx-collector@%p", c)
}

func (c *gpxCollector) Serve(ctx context.Context) error {
	const fixTimeoutInterval = 5 * time.Minute
	fixTimeout := time.NewTimer(fixTimeoutInterval)
	defer fixTimeout.Stop()

	for {
		select {
		case line := <-c.c:
			if c.handle(line) {
				fixTimeout.Reset(fixTimeoutInterval)
			}

		case <-fixTimeout.C:
			c.logger.Info("No position fixes received", "after", fixTimeoutInterval)
			c.sampler.Reset()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle processes one sentence and reports whether it was a valid fix.
func (c *gpxCollector) handle(line string) bool {
	gpxInputMessages.Inc()
	sent, err := nmea.Parse(line)
	if err != nil {
		if strings.Contains(err.Error(), "not supported") {
			gpxUnsupportedMessages.Inc()
			return false
		}
		gpxBadMessages.Inc()
		return false
	}

	switch sent.DataType() {
	case nmea.TypeRMC:
		rmc := sent.(nmea.RMC)
		if rmc.Validity != "A" {
			return false
		}
		c.date = rmc.Date
		c.fix(rmc.Latitude, rmc.Longitude, fixTime(rmc.Date, rmc.Time))
		return true

	case nmea.TypeGLL:
		gll := sent.(nmea.GLL)
		if gll.Validity != "A" {
			return false
		}
		date := c.date
		if !date.Valid {
			now := time.Now().UTC()
			date = nmea.Date{Valid: true, DD: now.Day(), MM: int(now.Month()), YY: now.Year() % 100}
		}
		c.fix(gll.Latitude, gll.Longitude, fixTime(date, gll.Time))
		return true

	case nmea.TypeGGA:
		gga := sent.(nmea.GGA)
		if gga.FixQuality == "0" {
			return false
		}
		c.altitude = gga.Altitude
		c.altitudeAt = time.Now()
	}
	return false
}

func (c *gpxCollector) fix(lat, lon float64, when time.Time) {
	s := writer.SampleAt(lat, lon, when)
	if !c.altitudeAt.IsZero() && time.Since(c.altitudeAt) < altitudeRetention {
		s = s.WithAltitude(c.altitude)
	}
	gpxPositionsSampled.Inc()
	if c.sampler.Sample(s) {
		c.track.Submit(writer.Mutation{Sample: s})
		gpxPositionsRecorded.Inc()
	}
}

func fixTime(d nmea.Date, t nmea.Time) time.Time {
	return time.Date(d.YY+2000, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
