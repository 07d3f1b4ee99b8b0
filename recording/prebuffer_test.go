package recording

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/mp4"
)

func testPrebuffer() (*Prebuffer, *time.Time) {
	p := NewPrebuffer(PrebufferOptions{Name: "test"})
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }
	return p, &now
}

func boxTypes(boxes []*mp4.Box) []string {
	var types []string
	for _, b := range boxes {
		types = append(types, b.Type)
	}
	return types
}

func TestPrebufferNoData(t *testing.T) {
	p, _ := testPrebuffer()

	_, err := p.Snapshot(PrebufferLength)
	assert.ErrorIs(t, err, ErrNoPrebufferData)

	_, err = p.Video(context.Background(), PrebufferLength)
	assert.ErrorIs(t, err, ErrNoPrebufferData)
}

func TestPrebufferEviction(t *testing.T) {
	p, now := testPrebuffer()

	p.add(mp4.NewBox(mp4.TypeFtyp, nil))
	p.add(mp4.NewBox(mp4.TypeMoov, nil))
	for i := 0; i < 10; i++ {
		p.add(mp4.NewBox(mp4.TypeMoof, nil))
		p.add(mp4.NewBox(mp4.TypeMdat, nil))
		*now = now.Add(time.Second)
	}

	// boxes of the last four seconds stay
	assert.Len(t, p.entries, 10)

	boxes, err := p.Snapshot(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat", "moof", "mdat"}, boxTypes(boxes))
}

func TestPrebufferSnapshotStartsAtFragment(t *testing.T) {
	p, now := testPrebuffer()

	p.add(mp4.NewBox(mp4.TypeFtyp, nil))
	p.add(mp4.NewBox(mp4.TypeMoov, nil))
	p.add(mp4.NewBox(mp4.TypeMdat, nil))
	*now = now.Add(time.Millisecond)
	p.add(mp4.NewBox(mp4.TypeMoof, nil))
	p.add(mp4.NewBox(mp4.TypeMdat, nil))

	boxes, err := p.Snapshot(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat"}, boxTypes(boxes))

	// the snapshot is not affected by later boxes
	p.add(mp4.NewBox(mp4.TypeMoof, nil))
	assert.Len(t, boxes, 4)
}

func TestPrebufferVideo(t *testing.T) {
	p, _ := testPrebuffer()
	p.add(mp4.NewBox(mp4.TypeFtyp, []byte("f")))
	p.add(mp4.NewBox(mp4.TypeMoov, []byte("m")))
	p.add(mp4.NewBox(mp4.TypeMoof, []byte("1")))
	p.add(mp4.NewBox(mp4.TypeMdat, []byte("1")))

	args, err := p.Video(context.Background(), PrebufferLength)
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"-f", "mp4", "-i"}, args[:3])

	conn, err := net.Dial("tcp", strings.TrimPrefix(args[3], "tcp://"))
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	r := mp4.NewReader(conn)

	var types []string
	for i := 0; i < 4; i++ {
		box, err := r.Next()
		require.NoError(t, err)
		types = append(types, box.Type)
	}
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat"}, types)

	// live boxes follow the history
	require.Eventually(t, func() bool {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return len(p.subscribers) == 1
	}, time.Second, 10*time.Millisecond)
	p.add(mp4.NewBox(mp4.TypeMoof, []byte("2")))

	box, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "moof", box.Type)
	assert.Equal(t, []byte("2"), box.Data)
}

func TestPrebufferStopWithoutStart(t *testing.T) {
	p, _ := testPrebuffer()
	assert.NotPanics(t, p.Stop)
}
