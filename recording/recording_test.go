package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/mp4"
)

// fakeSource yields its boxes and then blocks until closed, unless end is set.
type fakeSource struct {
	boxes  []*mp4.Box
	end    bool
	closed chan struct{}
	once   sync.Once
}

func newFakeSource(end bool, types ...string) *fakeSource {
	s := &fakeSource{end: end, closed: make(chan struct{})}
	for _, typ := range types {
		s.boxes = append(s.boxes, mp4.NewBox(typ, []byte(typ)))
	}
	return s
}

func (s *fakeSource) Next() (*mp4.Box, error) {
	if len(s.boxes) > 0 {
		b := s.boxes[0]
		s.boxes = s.boxes[1:]
		return b, nil
	}
	if !s.end {
		<-s.closed
	}
	return nil, mp4.ErrStreamEnded
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func newTestManager(sources ...*fakeSource) (*Manager, *[]Summary) {
	var (
		mu        sync.Mutex
		summaries []Summary
	)
	m := NewManager(Options{
		Name: "test",
		OnClosed: func(s Summary) {
			mu.Lock()
			summaries = append(summaries, s)
			mu.Unlock()
		},
	})
	m.UpdateRecordingConfiguration(&Configuration{Width: 1920, Height: 1080, FPS: 30, Bitrate: 2000})

	i := 0
	m.start = func(ctx context.Context, c *Configuration) (Source, error) {
		s := sources[i]
		i++
		return s, nil
	}
	return m, &summaries
}

func collect(t *testing.T, ch <-chan Packet) []Packet {
	var packets []Packet
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return packets
			}
			packets = append(packets, p)
		case <-timeout:
			t.Fatal("recording stream did not end")
		}
	}
}

func TestFragmenter(t *testing.T) {
	var f Fragmenter

	assert.Nil(t, f.Add(mp4.NewBox(mp4.TypeFtyp, []byte("a"))))
	fragment := f.Add(mp4.NewBox(mp4.TypeMoov, []byte("b")))
	assert.Equal(t, append(mp4.NewBox(mp4.TypeFtyp, []byte("a")).Bytes(), mp4.NewBox(mp4.TypeMoov, []byte("b")).Bytes()...), fragment)
	assert.Zero(t, f.Pending())

	assert.Nil(t, f.Add(mp4.NewBox(mp4.TypeMoof, nil)))
	assert.Equal(t, 8, f.Pending())
}

func TestRecordingFragments(t *testing.T) {
	src := newFakeSource(true, mp4.TypeFtyp, mp4.TypeMoov, mp4.TypeMdat, mp4.TypeMoov, mp4.TypeMdat)
	m, summaries := newTestManager(src)

	ch, err := m.HandleRecordingStreamRequest(context.Background(), 1)
	require.NoError(t, err)

	packets := collect(t, ch)
	require.Len(t, packets, 5)

	ftyp := mp4.NewBox(mp4.TypeFtyp, []byte(mp4.TypeFtyp)).Bytes()
	moov := mp4.NewBox(mp4.TypeMoov, []byte(mp4.TypeMoov)).Bytes()
	mdat := mp4.NewBox(mp4.TypeMdat, []byte(mp4.TypeMdat)).Bytes()
	assert.Equal(t, append(ftyp, moov...), packets[0].Data)
	assert.Equal(t, mdat, packets[1].Data)
	assert.Equal(t, moov, packets[2].Data)
	assert.Equal(t, mdat, packets[3].Data)
	for _, p := range packets[:4] {
		assert.False(t, p.IsLast)
	}
	assert.Equal(t, Packet{Data: []byte{0}, IsLast: true}, packets[4])

	assert.True(t, src.isClosed())
	assert.Equal(t, 0, m.ActiveRecordings())
	require.Len(t, *summaries, 1)
	assert.Equal(t, 2, (*summaries)[0].Segments)
	assert.Equal(t, CloseNormal, (*summaries)[0].Reason)
}

func TestRecordingMoofFragment(t *testing.T) {
	src := newFakeSource(true, mp4.TypeFtyp, mp4.TypeMoof, mp4.TypeMdat)
	m, _ := newTestManager(src)

	ch, err := m.HandleRecordingStreamRequest(context.Background(), 1)
	require.NoError(t, err)

	packets := collect(t, ch)
	require.Len(t, packets, 2)
	assert.Len(t, packets[0].Data, 3*12)
	assert.True(t, packets[1].IsLast)
}

func TestRecordingBusy(t *testing.T) {
	first := newFakeSource(false, mp4.TypeFtyp, mp4.TypeMoov)
	second := newFakeSource(false, mp4.TypeFtyp, mp4.TypeMoov)
	m, summaries := newTestManager(first, second)

	ch1, err := m.HandleRecordingStreamRequest(context.Background(), 7)
	require.NoError(t, err)
	p := <-ch1
	assert.False(t, p.IsLast)

	ch2, err := m.HandleRecordingStreamRequest(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	rest := collect(t, ch1)
	require.Len(t, rest, 1)
	assert.True(t, rest[0].IsLast)

	p = <-ch2
	assert.False(t, p.IsLast)
	assert.Equal(t, 1, m.ActiveRecordings())

	m.CloseRecordingStream(7, CloseNormal)
	rest = collect(t, ch2)
	require.Len(t, rest, 1)
	assert.True(t, rest[0].IsLast)

	require.Len(t, *summaries, 2)
	assert.Equal(t, CloseBusy, (*summaries)[0].Reason)
	assert.Equal(t, CloseNormal, (*summaries)[1].Reason)
}

func TestCloseUnknownStream(t *testing.T) {
	m, _ := newTestManager()

	assert.NotPanics(t, func() {
		m.CloseRecordingStream(42, CloseCancelled)
	})
}

func TestCloseTwice(t *testing.T) {
	src := newFakeSource(false)
	m, summaries := newTestManager(src)

	ch, err := m.HandleRecordingStreamRequest(context.Background(), 1)
	require.NoError(t, err)

	m.CloseRecordingStream(1, CloseTimeout)
	m.CloseRecordingStream(1, CloseNormal)

	packets := collect(t, ch)
	require.Len(t, packets, 1)
	assert.True(t, packets[0].IsLast)
	require.Len(t, *summaries, 1)
	assert.Equal(t, CloseTimeout, (*summaries)[0].Reason)
}

func TestNoConfiguration(t *testing.T) {
	m, _ := newTestManager()
	m.UpdateRecordingConfiguration(nil)

	_, err := m.HandleRecordingStreamRequest(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoConfiguration)
}

func TestStartFailure(t *testing.T) {
	m, _ := newTestManager()
	m.start = func(ctx context.Context, c *Configuration) (Source, error) {
		return nil, errors.New("spawn failed")
	}

	_, err := m.HandleRecordingStreamRequest(context.Background(), 1)
	assert.EqualError(t, err, "spawn failed")
	assert.Equal(t, 0, m.ActiveRecordings())
}

func TestEndReason(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.Equal(t, CloseNormal, endReason(ctx, mp4.ErrStreamEnded))
	assert.Equal(t, CloseUnexpectedFailure, endReason(ctx, mp4.ErrInvalidBox))
	cancel()
	assert.Equal(t, CloseCancelled, endReason(ctx, mp4.ErrStreamEnded))
}

func TestRecordingActive(t *testing.T) {
	m, _ := newTestManager()

	assert.False(t, m.RecordingActive())
	m.UpdateRecordingActive(true)
	assert.True(t, m.RecordingActive())
}

func TestVideoArgs(t *testing.T) {
	c := &Configuration{Profile: ProfileHigh, Level: Level4_0, FPS: 24, Bitrate: 800}

	assert.Equal(t, []string{
		"-an", "-sn", "-dn",
		"-codec:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-profile:v", "high",
		"-level:v", "4.0",
		"-b:v", "800k",
		"-force_key_frames", "expr:eq(t,n_forced*4)",
		"-r", "24",
	}, c.VideoArgs())

	c.IFrameInterval = -1
	assert.NotContains(t, c.VideoArgs(), "-force_key_frames")
	assert.Equal(t, FragmentLength, c.HistoryLength())
}

func TestCloseReasonString(t *testing.T) {
	assert.Equal(t, "BUSY", CloseBusy.String())
	assert.Equal(t, "INVALID_CONFIGURATION", CloseInvalidConfiguration.String())
	assert.Equal(t, "CloseReason(12)", CloseReason(12).String())
}
