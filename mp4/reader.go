package mp4

import (
	"io"
)

// Reader produces the boxes of a stream one at a time.
//
// A Reader never ends by itself: Next keeps returning boxes until the
// underlying stream fails or is closed. After the first error every further
// call returns that same error, so a Reader cannot be restarted; create a new
// one per stream.
type Reader struct {
	r   io.Reader
	err error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next blocks until the next complete box is available.
func (r *Reader) Next() (*Box, error) {
	if r.err != nil {
		return nil, r.err
	}

	box, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}

	return box, nil
}

// Err returns the error which ended the stream, if any.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) next() (*Box, error) {
	header, err := ReadLength(r.r, HeaderSize)
	if err != nil {
		return nil, err
	}

	length, typ, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	data, err := ReadLength(r.r, length)
	if err != nil {
		return nil, err
	}

	return &Box{
		Header: header,
		Length: length,
		Type:   typ,
		Data:   data,
	}, nil
}
