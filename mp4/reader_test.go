package mp4

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(boxes ...*Box) []byte {
	var buf bytes.Buffer
	for _, b := range boxes {
		b.WriteTo(&buf)
	}
	return buf.Bytes()
}

func TestReadLength(t *testing.T) {
	buf, err := ReadLength(bytes.NewReader(nil), 0)
	require.NoError(t, err)
	assert.Len(t, buf, 0)

	buf, err = ReadLength(bytes.NewReader([]byte{1, 2, 3, 4}), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestReadLengthShortStream(t *testing.T) {
	_, err := ReadLength(bytes.NewReader([]byte{1, 2}), 3)
	assert.True(t, errors.Is(err, ErrStreamEnded))

	_, err = ReadLength(bytes.NewReader(nil), 8)
	assert.True(t, errors.Is(err, ErrStreamEnded))
}

func TestReaderEmptyPayload(t *testing.T) {
	r := NewReader(bytes.NewReader(stream(NewBox("free", nil))))

	box, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "free", box.Type)
	assert.Equal(t, 0, box.Length)
	assert.Len(t, box.Data, 0)
	assert.Len(t, box.Header, HeaderSize)
}

func TestReaderLargePayloadAcrossReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 300000)
	data := stream(NewBox(TypeFtyp, []byte("isom")), NewBox(TypeMdat, payload))

	r := NewReader(iotest.HalfReader(bytes.NewReader(data)))

	box, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeFtyp, box.Type)
	assert.Equal(t, []byte("isom"), box.Data)

	box, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeMdat, box.Type)
	assert.Equal(t, len(payload), box.Length)
	assert.Equal(t, payload, box.Data)
	assert.True(t, box.IsFragmentBoundary())
}

func TestReaderOverSocketWithChunkedWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	payload := bytes.Repeat([]byte{1, 2, 3}, 5000)
	data := stream(NewBox(TypeMoof, payload))
	go func() {
		for len(data) > 0 {
			n := 1000
			if n > len(data) {
				n = len(data)
			}
			server.Write(data[:n])
			data = data[n:]
		}
		server.Close()
	}()

	r := NewReader(client)
	box, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeMoof, box.Type)
	assert.Equal(t, payload, box.Data)

	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrStreamEnded))
}

func TestReaderTruncatedPayload(t *testing.T) {
	data := stream(NewBox(TypeMdat, []byte("0123456789")))
	r := NewReader(bytes.NewReader(data[:len(data)-4]))

	_, err := r.Next()
	assert.True(t, errors.Is(err, ErrStreamEnded))
}

func TestReaderInvalidHeader(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0, 0, 0, 4, 'm', 'o', 'o', 'v'}))

	_, err := r.Next()
	assert.True(t, errors.Is(err, ErrInvalidBox))
}

func TestReaderOversizedBox(t *testing.T) {
	// only the header is there, the reader must not try to allocate 4 GiB
	r := NewReader(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 'm', 'd', 'a', 't'}))

	_, err := r.Next()
	assert.True(t, errors.Is(err, ErrInvalidBox))

	r = NewReader(bytes.NewReader(stream(NewBox(TypeMdat, make([]byte, 1024)))))
	box, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, box.Data, 1024)
}

func TestReaderIsNotRestartable(t *testing.T) {
	src := &switchingReader{}
	r := NewReader(src)

	_, err := r.Next()
	require.True(t, errors.Is(err, ErrStreamEnded))

	// data arriving later does not revive the reader
	src.r = bytes.NewReader(stream(NewBox(TypeMoov, nil)))
	_, err = r.Next()
	assert.True(t, errors.Is(err, ErrStreamEnded))
	assert.Equal(t, err, r.Err())
}

func TestBoxBytes(t *testing.T) {
	b := NewBox(TypeMoov, []byte{9, 9})
	assert.Equal(t, []byte{0, 0, 0, 10, 'm', 'o', 'o', 'v', 9, 9}, b.Bytes())
	assert.Equal(t, 10, b.Size())
	assert.True(t, b.IsFragmentBoundary())
	assert.False(t, NewBox(TypeFtyp, nil).IsFragmentBoundary())
}

type switchingReader struct {
	r io.Reader
}

func (s *switchingReader) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, io.EOF
	}
	return s.r.Read(p)
}
