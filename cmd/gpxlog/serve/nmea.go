package serve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.bug.st/serial"
)

const (
	inputTimeout    = 15 * time.Second
	routeBufferSize = 4096
)

var (
	inputLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "input",
		Name:      "lines_total",
	}, []string{"source", "result"})
	routedSentences = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "router",
		Name:      "sentences_total",
	}, []string{"kind"})
	routedDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpxlog",
		Subsystem: "router",
		Name:      "dropped_total",
	}, []string{"kind"})
)

// Results of checking an input line.
const (
	lineOK          = "ok"
	lineEmpty       = "empty"
	lineNonNMEA     = "non_nmea"
	lineNoChecksum  = "no_checksum"
	lineBadChecksum = "bad_checksum"
)

// input reads lines from one source and passes on the NMEA sentences
// whose checksum is correct. A failed source returns from Serve and is
// reopened by the supervisor.
type input struct {
	name    string
	open    func() (io.ReadCloser, error)
	lines   chan<- string
	timeout time.Duration
}

func tcpInput(lines chan<- string, addr string) *input {
	return &input{
		name: "tcp/" + addr,
		open: func() (io.ReadCloser, error) {
			conn, err := net.DialTimeout("tcp", addr, inputTimeout)
			if err != nil {
				return nil, fmt.Errorf("tcp input: %w", err)
			}
			return conn, nil
		},
		lines:   lines,
		timeout: inputTimeout,
	}
}

func udpInput(lines chan<- string, port int) *input {
	return &input{
		name: fmt.Sprintf("udp/%d", port),
		open: func() (io.ReadCloser, error) {
			conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
			if err != nil {
				return nil, fmt.Errorf("udp input: %w", err)
			}
			return conn, nil
		},
		lines:   lines,
		timeout: inputTimeout,
	}
}

// serialInput reads from a GPS receiver on a serial port. There is no read
// timeout; receivers may go quiet without a fix.
func serialInput(lines chan<- string, dev string, baud int) *input {
	return &input{
		name: dev,
		open: func() (io.ReadCloser, error) {
			port, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
			if err != nil {
				return nil, fmt.Errorf("serial input: %w", err)
			}
			return port, nil
		},
		lines: lines,
	}
}

func streamInput(lines chan<- string, r io.ReadCloser, name string) *input {
	return &input{
		name:  name,
		open:  func() (io.ReadCloser, error) { return r, nil },
		lines: lines,
	}
}

func (in *input) String() string {
	return fmt.Sprintf("input(%s)@%p", in.name, in)
}

func (in *input) Serve(ctx context.Context) error {
	rc, err := in.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	for _, res := range []string{lineOK, lineEmpty, lineNonNMEA, lineNoChecksum, lineBadChecksum} {
		inputLines.WithLabelValues(in.name, res)
	}

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 65536), 65536)
	for {
		if err := in.setDeadline(rc); err != nil {
			return err
		}
		if !sc.Scan() {
			break
		}

		line, res := checkSentence(sc.Text())
		inputLines.WithLabelValues(in.name, res).Inc()
		if res != lineOK {
			continue
		}
		select {
		case in.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (in *input) setDeadline(v any) error {
	if in.timeout == 0 {
		return nil
	}
	type deadliner interface {
		SetReadDeadline(t time.Time) error
	}
	if rd, ok := v.(deadliner); ok {
		return rd.SetReadDeadline(time.Now().Add(in.timeout))
	}
	return nil
}

// checkSentence trims line and verifies that it is a "$" or "!" sentence
// with a matching checksum.
func checkSentence(line string) (string, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", lineEmpty
	}
	if line[0] != '$' && line[0] != '!' {
		return "", lineNonNMEA
	}
	idx := strings.LastIndexByte(line, '*')
	if idx == -1 {
		return "", lineNoChecksum
	}
	if !strings.EqualFold(nmea.Checksum(line[1:idx]), line[idx+1:]) {
		return "", lineBadChecksum
	}
	return line, lineOK
}

// sentenceKind says which collector a sentence is for.
type sentenceKind string

const (
	kindPosition sentenceKind = "position"
	kindAIS      sentenceKind = "ais"
)

var sentenceKinds = map[string]sentenceKind{
	nmea.TypeRMC: kindPosition,
	nmea.TypeGGA: kindPosition,
	nmea.TypeGLL: kindPosition,
	nmea.TypeVDM: kindAIS,
	nmea.TypeVDO: kindAIS,
}

// sentenceType returns the formatter of a checked sentence, ignoring the
// talker: "RMC" for both $GPRMC and $GNRMC.
func sentenceType(line string) string {
	addr := line[1:]
	if i := strings.IndexAny(addr, ",*"); i >= 0 {
		addr = addr[:i]
	}
	if len(addr) < 5 || addr[0] == 'P' {
		return ""
	}
	return addr[len(addr)-3:]
}

// router hands each sentence to the collectors for its kind. A collector
// that falls behind loses sentences rather than hold up the others.
type router struct {
	input  <-chan string
	routes map[sentenceKind][]chan string
}

func newRouter(input <-chan string) *router {
	return &router{input: input, routes: make(map[sentenceKind][]chan string)}
}

// Route returns a channel receiving sentences of the given kind. It must be
// called before Serve.
func (r *router) Route(kind sentenceKind) <-chan string {
	c := make(chan string, routeBufferSize)
	r.routes[kind] = append(r.routes[kind], c)
	return c
}

func (r *router) String() string {
	return fmt.Sprintf("router@%p", r)
}

func (r *router) Serve(ctx context.Context) error {
	for {
		select {
		case line := <-r.input:
			kind, ok := sentenceKinds[sentenceType(line)]
			if !ok || len(r.routes[kind]) == 0 {
				routedSentences.WithLabelValues("ignored").Inc()
				continue
			}
			routedSentences.WithLabelValues(string(kind)).Inc()
			for _, out := range r.routes[kind] {
				select {
				case out <- line:
				default:
					routedDropped.WithLabelValues(string(kind)).Inc()
				}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
