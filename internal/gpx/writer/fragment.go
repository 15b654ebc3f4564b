package writer

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

const isoDateTimeFormat = "2006-01-02T15:04:05Z"

// ISODateTime formats milliseconds since the epoch as an ISO 8601 UTC
// timestamp with second resolution.
func ISODateTime(epochMillis int64) string {
	return time.UnixMilli(epochMillis).UTC().Format(isoDateTimeFormat)
}

const bootstrapHeader = `<?xml version="1.0" encoding="UTF-8" ?>
<gpx version="1.0" creator="gpxlog - https://calmh.dev/gpxlog/" 
xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" 
xmlns="http://www.topografix.com/GPX/1/0" 
xsi:schemaLocation="http://www.topografix.com/GPX/1/0 
http://www.topografix.com/GPX/1/0/gpx.xsd">
`

// RenderTrackPoint renders a track point followed by the open tail. When
// segmentJustOpened is set the point starts a new <trkseg>.
func RenderTrackPoint(s Sample, timeText string, segmentJustOpened bool) string {
	var b strings.Builder
	if segmentJustOpened {
		b.WriteString("<trkseg>\n")
	}
	b.WriteString(`<trkpt lat="`)
	b.WriteString(formatFloat32(s.Latitude))
	b.WriteString(`" lon="`)
	b.WriteString(formatFloat32(s.Longitude))
	b.WriteString(`">`)
	writePointBody(&b, s, timeText)
	b.WriteString("</trkpt>\n")
	b.WriteString(TailOpen)
	return b.String()
}

// RenderWaypoint renders a waypoint element. The description is written as
// is; callers that cannot guarantee clean text should use EscapeText first.
func RenderWaypoint(s Sample, timeText, description string) string {
	var b strings.Builder
	b.WriteString(`
<wpt lat="`)
	b.WriteString(formatFloat32(s.Latitude))
	b.WriteString(`" lon="`)
	b.WriteString(formatFloat32(s.Longitude))
	b.WriteString(`">`)
	writePointBody(&b, s, timeText)
	b.WriteString("<name>")
	b.WriteString(description)
	b.WriteString("</name>")
	b.WriteString("</wpt>\n")
	return b.String()
}

// RenderBootstrap renders a complete new document. The first fragment is
// placed right after the track name and must carry the closing tail.
func RenderBootstrap(filename, timeText, firstFragment string) string {
	var b strings.Builder
	b.WriteString(bootstrapHeader)
	b.WriteString("<metadata><time>")
	b.WriteString(timeText)
	b.WriteString("</time></metadata>\n")
	b.WriteString("<trk><name>")
	b.WriteString(filename)
	b.WriteString("</name>")
	b.WriteString(firstFragment)
	return b.String()
}

// EscapeText returns s with XML special characters escaped.
func EscapeText(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func writePointBody(b *strings.Builder, s Sample, timeText string) {
	b.WriteString("<ele>")
	if s.HasAltitude {
		b.WriteString(formatFloat32(s.Altitude))
	} else {
		b.WriteString("0.0")
	}
	b.WriteString("</ele>")
	b.WriteString("<time>")
	b.WriteString(timeText)
	b.WriteString("</time>")
}

// formatFloat32 prints v with single precision in the shortest form that
// round trips, always with a decimal point.
func formatFloat32(v float64) string {
	s := strconv.FormatFloat(float64(float32(v)), 'f', -1, 32)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
