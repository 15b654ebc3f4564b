package writer

import (
	"bytes"
	"io"
)

// A track file always ends in one of these two tails. While a segment is
// open, new content replaces TailOpen; once it is closed (by a waypoint or
// by reaching MaxSegmentPoints) new content goes in before TailClosed, which
// may then directly follow the </trkseg> of the last segment.
const (
	TailOpen   = "</trkseg></trk></gpx>"
	TailClosed = "</trk></gpx>"
)

// Tail returns the tail a file has when its segment state is open.
func Tail(open bool) string {
	if open {
		return TailOpen
	}
	return TailClosed
}

// ResolveInsertOffset returns the offset at which the tail of a file of
// the given length starts.
func ResolveInsertOffset(fileLength int64, open bool) (int64, error) {
	tail := Tail(open)
	if fileLength < int64(len(tail)) {
		return 0, &PreconditionError{Length: fileLength, Want: tail}
	}
	return fileLength - int64(len(tail)), nil
}

// VerifyTail checks that the last bytes of r are the tail expected for the
// given segment state.
func VerifyTail(r io.ReaderAt, length int64, open bool) error {
	offset, err := ResolveInsertOffset(length, open)
	if err != nil {
		return err
	}
	tail := Tail(open)
	buf := make([]byte, len(tail))
	if _, err := r.ReadAt(buf, offset); err != nil {
		return &IOError{Op: "read tail", Err: err}
	}
	if !bytes.Equal(buf, []byte(tail)) {
		return &PreconditionError{Length: length, Want: tail, Got: string(buf)}
	}
	return nil
}
