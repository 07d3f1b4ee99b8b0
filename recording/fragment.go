// Package recording delivers event triggered recordings as fragmented MP4.
//
// A Prebuffer keeps the last seconds of a camera's video so that recordings
// start before the event. The Manager runs one transcode per recording
// stream and turns its boxes into packets for the consumer.
package recording

import (
	"github.com/hoffmation/hkhoffmation/mp4"
)

// Packet is one unit of a recording stream. Exactly one packet of a stream
// has IsLast set and it is always the last one.
type Packet struct {
	Data   []byte
	IsLast bool
}

// lastPacket closes a recording stream.
func lastPacket() Packet {
	return Packet{Data: []byte{0}, IsLast: true}
}

// Source is a stream of boxes, usually an ffmpeg.FragmentedSession.
type Source interface {
	Next() (*mp4.Box, error)
	Close() error
}

// Fragmenter groups boxes into fragments. A fragment ends with a moov or mdat box.
type Fragmenter struct {
	pending []byte
}

// Add appends the box and returns the completed fragment when the box closes one.
func (f *Fragmenter) Add(box *mp4.Box) []byte {
	f.pending = append(f.pending, box.Header...)
	f.pending = append(f.pending, box.Data...)

	if !box.IsFragmentBoundary() {
		return nil
	}

	fragment := f.pending
	f.pending = nil
	return fragment
}

// Pending returns the number of buffered bytes not yet part of a fragment.
func (f *Fragmenter) Pending() int {
	return len(f.pending)
}
