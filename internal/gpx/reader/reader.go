// Package reader parses track files written by the track writer. It also
// reads ordinary GPX files, which put waypoints under <gpx> rather than
// inside <trk>.
package reader

import (
	"encoding/xml"
	"errors"
	"io"
	"os"
	"time"
)

type GPX struct {
	Version  string `xml:"version,attr"`
	Metadata struct {
		Time time.Time `xml:"time"`
	} `xml:"metadata"`
	Tracks    []GPXTrack `xml:"trk"`
	Waypoints []GPXPoint `xml:"wpt"`
}

type GPXTrack struct {
	Name      string       `xml:"name"`
	Segments  []GPXSegment `xml:"trkseg"`
	Waypoints []GPXPoint   `xml:"wpt"`
}

type GPXSegment struct {
	Points []GPXPoint `xml:"trkpt"`
}

type GPXPoint struct {
	Lat  float64   `xml:"lat,attr"`
	Lon  float64   `xml:"lon,attr"`
	Ele  float64   `xml:"ele"`
	Time time.Time `xml:"time"`
	Name string    `xml:"name"`
}

// Parse decodes a single GPX document.
func Parse(r io.Reader) (*GPX, error) {
	var g GPX
	if err := xml.NewDecoder(r).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

func ParseFile(path string) (*GPX, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return Parse(fd)
}

// Segments returns the points of every segment of every track.
func (g *GPX) Segments() [][]GPXPoint {
	var segs [][]GPXPoint
	for _, trk := range g.Tracks {
		for _, seg := range trk.Segments {
			segs = append(segs, seg.Points)
		}
	}
	return segs
}

// AllWaypoints returns waypoints from inside tracks followed by top level
// ones.
func (g *GPX) AllWaypoints() []GPXPoint {
	var wpts []GPXPoint
	for _, trk := range g.Tracks {
		wpts = append(wpts, trk.Waypoints...)
	}
	return append(wpts, g.Waypoints...)
}

// Points reads a stream of GPX documents and returns their segments.
func Points(r io.Reader) ([][]GPXPoint, error) {
	dec := xml.NewDecoder(r)
	var points [][]GPXPoint
	for {
		var g GPX
		if err := dec.Decode(&g); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		points = append(points, g.Segments()...)
	}
	return points, nil
}

// WellFormed checks that r holds exactly one complete XML document by
// walking every token.
func WellFormed(r io.Reader) error {
	dec := xml.NewDecoder(r)
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if roots != 1 {
		return errors.New("expected exactly one root element")
	}
	if depth != 0 {
		return errors.New("unterminated document")
	}
	return nil
}
