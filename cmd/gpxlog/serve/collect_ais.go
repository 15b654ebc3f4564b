package serve

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	ais "github.com/BertoldVdb/go-ais"
	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slog"
)

var (
	aisContacts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpxlog",
		Subsystem: "ais",
		Name:      "contacts_5min",
	}, []string{"class"})
	aisPositionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "ais",
		Name:      "record_positions_total",
	}, []string{"mmsi"})
)

const (
	contactRetention = 5 * time.Minute
	aisFileIdle      = time.Hour
)

// aisPosition is a decoded position report.
type aisPosition struct {
	mmsi     uint32
	class    string
	lat, lon float64
}

// aisCollector writes a separate track per followed MMSI and keeps the
// contact gauges up to date for everything heard.
type aisCollector struct {
	c       <-chan string
	pattern string
	follow  map[uint32]bool
	files   *trackFiles
	logger  *slog.Logger
	now     func() time.Time

	samplers map[uint32]*sampler
	interval time.Duration
	contacts map[string]map[uint32]time.Time
}

func collectAIS(c <-chan string, pattern string, mmsis []uint32, interval time.Duration, files *trackFiles, logger *slog.Logger) *aisCollector {
	follow := make(map[uint32]bool, len(mmsis))
	for _, m := range mmsis {
		follow[m] = true
	}
	return &aisCollector{
		c:        c,
		pattern:  pattern,
		follow:   follow,
		files:    files,
		logger:   logger.With("module", "ais-collector"),
		now:      time.Now,
		samplers: make(map[uint32]*sampler),
		interval: interval,
		contacts: map[string]map[uint32]time.Time{"A": {}, "B": {}},
	}
}

func (l *aisCollector) String() string {
	return fmt.Sprintf("ais-collector@%p", l)
}

func (l *aisCollector) Serve(ctx context.Context) error {
	dec := ais.CodecNew(false, false)
	expire := time.NewTicker(time.Minute)
	defer expire.Stop()

	for {
		select {
		case line := <-l.c:
			sentence, err := nmea.Parse(line)
			if err != nil {
				continue
			}
			vdmvdo, ok := sentence.(nmea.VDMVDO)
			if !ok || vdmvdo.NumFragments > 1 {
				continue
			}
			pkt := dec.DecodePacket(vdmvdo.Payload)
			if pkt == nil {
				continue
			}
			if pos, ok := positionReport(pkt); ok {
				l.handle(pos)
			}

		case <-expire.C:
			go l.files.Expire(aisFileIdle)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *aisCollector) handle(pos aisPosition) {
	now := l.now()

	contacts := l.contacts[pos.class]
	contacts[pos.mmsi] = now
	for k, v := range contacts {
		if now.Sub(v) > contactRetention {
			delete(contacts, k)
		}
	}
	aisContacts.WithLabelValues(pos.class).Set(float64(len(contacts)))

	if !l.follow[pos.mmsi] {
		return
	}

	s, ok := l.samplers[pos.mmsi]
	if !ok {
		s = &sampler{interval: l.interval}
		l.samplers[pos.mmsi] = s
	}
	sample := writer.SampleAt(pos.lat, pos.lon, now)
	if !s.Sample(sample) {
		return
	}

	path := aisTrackPath(l.pattern, pos.mmsi, now)
	select {
	case err := <-l.files.Submit(path, writer.Mutation{Sample: sample}):
		if err != nil {
			l.logger.Error("Writing AIS track", "mmsi", pos.mmsi, "error", err)
			return
		}
	default:
	}
	aisPositionsRecorded.WithLabelValues(strconv.FormatUint(uint64(pos.mmsi), 10)).Inc()
}

// aisTrackPath formats the time into pattern first, so that the digits of
// the MMSI are not taken for layout elements.
func aisTrackPath(pattern string, mmsi uint32, when time.Time) string {
	name := when.UTC().Format(pattern)
	return strings.ReplaceAll(name, "{mmsi}", strconv.FormatUint(uint64(mmsi), 10))
}

// positionReport extracts the position from class A (1, 2, 3) and class B
// (18, 19) reports. The report types differ but share the field names.
func positionReport(pkt ais.Packet) (aisPosition, bool) {
	hdr := pkt.GetHeader()
	var class string
	switch hdr.MessageID {
	case 1, 2, 3:
		class = "A"
	case 18, 19:
		class = "B"
	default:
		return aisPosition{}, false
	}

	v := reflect.Indirect(reflect.ValueOf(pkt))
	if v.Kind() != reflect.Struct {
		return aisPosition{}, false
	}
	lat, lon := v.FieldByName("Latitude"), v.FieldByName("Longitude")
	if !lat.IsValid() || !lon.IsValid() || !lat.CanFloat() || !lon.CanFloat() {
		return aisPosition{}, false
	}
	pos := aisPosition{mmsi: hdr.UserID, class: class, lat: lat.Float(), lon: lon.Float()}

	// 91 and 181 mean "not available".
	if pos.lat > 90 || pos.lat < -90 || pos.lon > 180 || pos.lon < -180 {
		return pos, false
	}
	return pos, true
}

func parseMMSIs(ss []string) ([]uint32, error) {
	var mmsis []uint32
	for _, s := range ss {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad MMSI %q: %w", s, err)
		}
		mmsis = append(mmsis, uint32(v))
	}
	return mmsis, nil
}
