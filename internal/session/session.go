// Package session keeps the segment state of a track file between writes.
//
// A Store holds two values per track file: whether a track segment is
// currently open, and how many points have been written into it. The track
// writer is the only caller; stores need to be safe for that single writer
// and nothing more.
package session

// Store is the persistence contract used by the track writer.
type Store interface {
	IsSegmentOpen() (bool, error)
	SetSegmentOpen(open bool) error

	PointCount() (int, error)
	// NextPointCount increments the point count and returns the new value.
	NextPointCount() (int, error)
	ClearPointCount() error
}

type state struct {
	SegmentOpen bool `json:"trackSegmentOpen"`
	PointCount  int  `json:"pointCount"`
}
