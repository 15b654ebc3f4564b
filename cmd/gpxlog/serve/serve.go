package serve

import (
	"context"
	"errors"
	"net/url"
	"os"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/exp/slog"
)

type CLI struct {
	InputTCPConnect []string `help:"TCP connect input addresses (e.g., 172.16.1.2:2000)" placeholder:"ADDR" group:"Input"`
	InputUDPListen  []int    `help:"UDP broadcast input listen ports (e.g., 2000)" placeholder:"PORT" group:"Input"`
	InputSerial     []string `help:"Serial port inputs (e.g., /dev/ttyS0)" placeholder:"DEV" group:"Input"`
	InputSerialBaud int      `help:"Serial port speed" default:"4800" group:"Input"`
	InputStdin      bool     `help:"Read NMEA from standard input" group:"Input"`

	OutputGPXPattern        string        `default:"track-20060102.gpx" help:"File naming pattern, see https://golang.org/pkg/time/#Time.Format" group:"GPX File Output"`
	OutputGPXSampleInterval time.Duration `help:"Time between track points" default:"10s" group:"GPX File Output"`
	OutputGPXMovingDistance float64       `help:"Minimum travel between track points (meters)" default:"10" group:"GPX File Output"`

	OutputAISMMSI           []string      `name:"output-ais-mmsi" help:"Write a track for each of these MMSIs" placeholder:"MMSI" group:"AIS Track Output"`
	OutputAISPattern        string        `name:"output-ais-pattern" default:"ais-{mmsi}-20060102.gpx" help:"File naming pattern; {mmsi} is replaced by the MMSI" group:"AIS Track Output"`
	OutputAISSampleInterval time.Duration `name:"output-ais-sample-interval" default:"30s" help:"Time between AIS track points" group:"AIS Track Output"`

	WriterOptions `embed:""`

	APIListen               string `default:"127.0.0.1:8140" help:"HTTP listen address for the position and annotation API" placeholder:"ADDR" group:"API"`
	PrometheusMetricsListen string `default:"127.0.0.1:9140" help:"HTTP listen address for Prometheus metrics endpoint" placeholder:"ADDR" group:"Metrics"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	logger = logger.With("module", "serve")

	sup := suture.New("main", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Error(ev.String())
		},
	})

	options, closeOptions, err := cli.WriterOptions.Factory(logger)
	if err != nil {
		return err
	}
	defer closeOptions()

	// Track file writers run under their own supervisor so that they are
	// stopped after the inputs and collectors feeding them.
	writers := suture.New("writers", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Error(ev.String())
		},
	})
	files := newTrackFiles(writers, options, logger)

	input := make(chan string, 4096)
	rt := newRouter(input)
	sup.Add(rt)

	if cli.InputStdin {
		logger.Info("Reading NMEA from stdin")
		sup.Add(streamInput(input, os.Stdin, "stdin"))
	}

	for _, addr := range cli.InputTCPConnect {
		logger.Info("Reading NMEA from TCP", "addr", addr)
		sup.Add(tcpInput(input, addr))
	}

	for _, port := range cli.InputUDPListen {
		logger.Info("Reading NMEA from UDP", "port", port)
		sup.Add(udpInput(input, port))
	}

	for _, dev := range cli.InputSerial {
		logger.Info("Reading NMEA from serial device", "dev", dev, "baud", cli.InputSerialBaud)
		sup.Add(serialInput(input, dev, cli.InputSerialBaud))
	}

	var trk *track
	if cli.OutputGPXPattern != "" {
		logger.Info("Collecting GPX tracks", "pattern", cli.OutputGPXPattern)
		trk = newTrack(cli.OutputGPXPattern, files, logger)
		smp := &sampler{interval: cli.OutputGPXSampleInterval, minDistance: cli.OutputGPXMovingDistance}
		sup.Add(collectGPX(rt.Route(kindPosition), trk, smp, logger))
	}

	mmsis, err := parseMMSIs(cli.OutputAISMMSI)
	if err != nil {
		return err
	}
	if len(mmsis) > 0 {
		logger.Info("Collecting AIS tracks", "pattern", cli.OutputAISPattern, "mmsis", mmsis)
	}
	sup.Add(collectAIS(rt.Route(kindAIS), cli.OutputAISPattern, mmsis, cli.OutputAISSampleInterval, files, logger))

	if cli.APIListen != "" && trk != nil {
		logger.Info("Serving API", "addr", cli.APIListen)
		sup.Add(&apiServer{addr: cli.APIListen, track: trk, files: files, logger: logger})
	}

	if cli.PrometheusMetricsListen != "" {
		url := &url.URL{Scheme: "http", Host: cli.PrometheusMetricsListen, Path: "/metrics"}
		logger.Info("Exporting metrics", "url", url.String())
		sup.Add(&prometheusListener{cli.PrometheusMetricsListen})
	}

	writersCtx, stopWriters := context.WithCancel(context.Background())
	writersDone := writers.ServeBackground(writersCtx)

	err = sup.Serve(ctx)

	// Inputs have stopped; let the writers finish their queues.
	stopWriters()
	<-writersDone
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
