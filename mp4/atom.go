// Package mp4 reads ISO base media file format boxes from a byte stream.
//
// The transcoder writes fragmented MP4 to a socket; this package turns that socket
// into a pull-based sequence of boxes. Only the box framing is interpreted,
// the payload of every box passes through untouched.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of a box header: 32-bit big-endian length plus 4-byte type.
const HeaderSize = 8

// MaxBoxSize bounds the payload a reader allocates for one box.
const MaxBoxSize = 64 << 20

// Box types which close a fragment.
const (
	TypeMoov = "moov"
	TypeMdat = "mdat"
	TypeFtyp = "ftyp"
	TypeMoof = "moof"
)

// ErrStreamEnded is returned when the source ends while a read still expects bytes.
var ErrStreamEnded = errors.New("mp4: stream ended during read")

// ErrInvalidBox is returned for a header whose length is smaller than the header
// itself or whose payload exceeds MaxBoxSize.
var ErrInvalidBox = errors.New("mp4: invalid box length")

// Box is one length-prefixed, type-tagged chunk of the stream.
type Box struct {
	Header []byte
	// Length is the payload length, i.e. the header length field minus HeaderSize.
	Length int
	Type   string
	Data   []byte
}

// IsFragmentBoundary reports whether the box closes a fragment.
func (b *Box) IsFragmentBoundary() bool {
	return b.Type == TypeMoov || b.Type == TypeMdat
}

// Size returns the number of bytes the box occupies on the wire.
func (b *Box) Size() int {
	return len(b.Header) + len(b.Data)
}

// Bytes returns header and payload concatenated.
func (b *Box) Bytes() []byte {
	buf := make([]byte, 0, b.Size())
	buf = append(buf, b.Header...)
	return append(buf, b.Data...)
}

// WriteTo writes header and payload to w.
func (b *Box) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.Header)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(b.Data)
	return int64(n + m), err
}

// NewBox assembles a box from its type and payload.
func NewBox(typ string, data []byte) *Box {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(len(data)+HeaderSize))
	copy(header[4:], typ)
	return &Box{
		Header: header,
		Length: len(data),
		Type:   typ,
		Data:   data,
	}
}

// ReadLength reads exactly n bytes from r.
// It blocks until n bytes are available and fails with ErrStreamEnded
// when r ends first; a short buffer is never returned.
func ReadLength(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w for minimum %d bytes", ErrStreamEnded, n)
		}
		return nil, err
	}

	return buf, nil
}

// parseHeader returns the payload length and type of a box header.
func parseHeader(header []byte) (int, string, error) {
	length := binary.BigEndian.Uint32(header)
	if length < HeaderSize || length-HeaderSize > MaxBoxSize {
		return 0, "", fmt.Errorf("%w: %d", ErrInvalidBox, length)
	}

	return int(length) - HeaderSize, string(header[4:HeaderSize]), nil
}
