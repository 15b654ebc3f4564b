package serve

import (
	"fmt"

	"calmh.dev/gpxlog/internal/gpx/writer"
	"calmh.dev/gpxlog/internal/indexer"
	"calmh.dev/gpxlog/internal/session"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// WriterOptions are the track writer settings shared by subcommands.
type WriterOptions struct {
	StateStore  string `help:"Where segment state is kept (file, redis, memory)" enum:"file,redis,memory" default:"file" group:"Track writer"`
	RedisAddr   string `help:"Redis address for the redis state store" default:"127.0.0.1:6379" placeholder:"ADDR" env:"GPXLOG_REDIS_ADDR" group:"Track writer"`
	RedisPrefix string `help:"Key prefix for the redis state store" default:"gpxlog" group:"Track writer"`
	QueueSize   int    `help:"Pending writes per track file" default:"128" group:"Track writer"`
	Overflow    string `help:"What to do when the queue is full (drop-newest, drop-oldest, caller-runs)" enum:"drop-newest,drop-oldest,caller-runs" default:"drop-newest" group:"Track writer"`
	EscapeNames bool   `help:"XML escape waypoint names" group:"Track writer"`

	IndexManifest string `help:"Keep a JSON manifest of written track files" placeholder:"PATH" group:"Indexing"`
	IndexWebhook  string `help:"POST a notification to this URL when a track file changes" placeholder:"URL" env:"GPXLOG_INDEX_WEBHOOK" group:"Indexing"`
}

// Factory returns a function producing writer options per track file.
// The returned close function releases shared resources.
func (o *WriterOptions) Factory(logger *slog.Logger) (func(path string) (writer.Options, error), func() error, error) {
	overflow, err := writer.ParseOverflow(o.Overflow)
	if err != nil {
		return nil, nil, err
	}

	idx := indexer.Multi{indexer.Log{Logger: logger}}
	if o.IndexManifest != "" {
		idx = append(idx, &indexer.Manifest{Path: o.IndexManifest})
	}
	if o.IndexWebhook != "" {
		idx = append(idx, &indexer.Webhook{URL: o.IndexWebhook})
	}

	closer := func() error { return nil }
	var store func(path string) session.Store
	switch o.StateStore {
	case "memory":
		store = func(string) session.Store { return session.NewMemory() }
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: o.RedisAddr})
		closer = client.Close
		store = func(path string) session.Store {
			return session.NewRedis(client, o.RedisPrefix+":"+path)
		}
	case "file", "":
		store = func(path string) session.Store { return session.NewFile(session.StatePath(path)) }
	default:
		return nil, nil, fmt.Errorf("unknown state store %q", o.StateStore)
	}

	return func(path string) (writer.Options, error) {
		return writer.Options{
			Store:       store(path),
			Indexer:     idx,
			Logger:      logger,
			QueueSize:   o.QueueSize,
			Overflow:    overflow,
			EscapeNames: o.EscapeNames,
		}, nil
	}, closer, nil
}
