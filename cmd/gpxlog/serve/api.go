package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"calmh.dev/gpxlog/internal/gpx/writer"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/exp/slog"
)

const apiWaitTimeout = 10 * time.Second

type locationRequest struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
	Altitude  *float64 `json:"alt"`
	Timestamp int64    `json:"timestamp"`
}

type annotateRequest struct {
	Description string `json:"description"`
	locationRequest
}

type positionResponse struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  *float64  `json:"alt,omitempty"`
	Time      time.Time `json:"time"`
}

type statusResponse struct {
	Format        string            `json:"format,omitempty"`
	File          string            `json:"file,omitempty"`
	Queued        int               `json:"queued"`
	SegmentOpen   bool              `json:"segment_open"`
	SegmentPoints int               `json:"segment_points"`
	Files         []string          `json:"files"`
	Last          *positionResponse `json:"last,omitempty"`
}

// apiServer accepts positions and annotations over HTTP.
type apiServer struct {
	addr   string
	track  *track
	files  *trackFiles
	logger *slog.Logger
}

func (a *apiServer) String() string {
	return fmt.Sprintf("api-server(%s)@%p", a.addr, a)
}

func (a *apiServer) Serve(ctx context.Context) error {
	app := a.app()

	list, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	return app.Listener(list)
}

func (a *apiServer) app() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	r := app.Group("/api/v1")

	r.Post("/location", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Latitude == nil || req.Longitude == nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lon required")
		}
		res := a.track.Submit(writer.Mutation{Sample: req.sample(writer.Sample{})})
		return a.respond(c, res)
	})

	r.Post("/annotate", func(c *fiber.Ctx) error {
		var req annotateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Description == "" {
			return fiber.NewError(fiber.StatusBadRequest, "description required")
		}
		last, ok := a.track.Last()
		if (req.Latitude == nil || req.Longitude == nil) && !ok {
			return fiber.NewError(fiber.StatusConflict, "no position known; lat and lon required")
		}
		res := a.track.Submit(writer.Mutation{Sample: req.sample(last), Description: req.Description})
		return a.respond(c, res)
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		status := statusResponse{Files: a.files.Paths()}
		if l, ok := a.track.Current(); ok {
			status.Format = l.Name()
			status.File = l.Path()
			status.Queued = l.QueueLen()
			if st, err := l.State(); err == nil {
				status.SegmentOpen = st.Open
				status.SegmentPoints = st.Points
			}
		}
		if last, ok := a.track.Last(); ok {
			pos := &positionResponse{
				Latitude:  last.Latitude,
				Longitude: last.Longitude,
				Time:      time.UnixMilli(last.TimestampMillis).UTC(),
			}
			if last.HasAltitude {
				alt := last.Altitude
				pos.Altitude = &alt
			}
			status.Last = pos
		}
		return c.JSON(status)
	})

	return app
}

// respond waits for the outcome when the request asks for it with
// ?wait=1, otherwise it acknowledges the queued mutation.
func (a *apiServer) respond(c *fiber.Ctx, res <-chan error) error {
	if c.QueryBool("wait") {
		select {
		case err := <-res:
			if err != nil {
				a.logger.Warn("API mutation failed", "error", err)
				return fiber.NewError(statusFor(err), err.Error())
			}
			return c.SendStatus(fiber.StatusCreated)
		case <-time.After(apiWaitTimeout):
			return fiber.NewError(fiber.StatusGatewayTimeout, "timed out waiting for write")
		}
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, writer.ErrQueueFull), errors.Is(err, writer.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, writer.ErrPrecondition):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// sample builds a sample from the request, taking missing coordinates
// from def. Altitude and time are never inherited.
func (r locationRequest) sample(def writer.Sample) writer.Sample {
	s := writer.Sample{
		Latitude:        def.Latitude,
		Longitude:       def.Longitude,
		TimestampMillis: r.Timestamp,
	}
	if r.Latitude != nil && r.Longitude != nil {
		s.Latitude, s.Longitude = *r.Latitude, *r.Longitude
	}
	if r.Altitude != nil {
		s = s.WithAltitude(*r.Altitude)
	}
	return s
}
