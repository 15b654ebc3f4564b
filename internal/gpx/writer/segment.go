package writer

// MaxSegmentPoints is the number of points after which a segment is closed
// and the next point starts a new one.
const MaxSegmentPoints = 20

// SegmentState is the cross-write state of a track file.
type SegmentState struct {
	// Open is set while the last segment still accepts points, i.e. while
	// the file ends in TailOpen.
	Open bool
	// Points counts the points in the open segment; zero when closed.
	Points int
}

// Bootstrap is the state of a freshly created file: its first point has
// opened a segment.
func Bootstrap() SegmentState {
	return SegmentState{Open: true, Points: 1}
}

// AfterTrackPoint returns the state after a track point has been written.
func (s SegmentState) AfterTrackPoint() SegmentState {
	if !s.Open {
		s = SegmentState{Open: true, Points: 1}
	} else {
		s.Points++
	}
	if s.Points >= MaxSegmentPoints {
		return SegmentState{}
	}
	return s
}

// AfterWaypoint returns the state after a waypoint has been written. A
// waypoint always leaves the segment closed.
func (s SegmentState) AfterWaypoint() SegmentState {
	return SegmentState{}
}
