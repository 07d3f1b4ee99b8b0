package backend

import (
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/recording"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()

	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestInsertRecording(t *testing.T) {
	h := openTestHistory(t)

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.InsertRecording(recording.Summary{
		StreamID: 7,
		Camera:   "Door",
		Started:  started,
		Ended:    started.Add(12 * time.Second),
		Segments: 3,
		Bytes:    4096,
		Reason:   recording.CloseBusy,
	}, "/tmp/door.mp4"))

	rows, err := h.Recordings()
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, 7, r.StreamID)
	assert.Equal(t, "Door", r.Camera)
	assert.True(t, started.Equal(r.Started))
	assert.Equal(t, 12*time.Second, r.Ended.Sub(r.Started))
	assert.Equal(t, 3, r.Segments)
	assert.Equal(t, 4096, r.Bytes)
	assert.Equal(t, "BUSY", r.Reason)
	assert.Equal(t, "/tmp/door.mp4", r.File)
}

func TestHistoryPrune(t *testing.T) {
	h := openTestHistory(t)

	for i := 0; i < MaxHistory+5; i++ {
		require.NoError(t, h.InsertRecording(recording.Summary{StreamID: i, Camera: "Door"}, ""))
	}

	rows, err := h.Recordings()
	require.NoError(t, err)
	require.Len(t, rows, MaxHistory)
	assert.Equal(t, MaxHistory+4, rows[0].StreamID)
	assert.Equal(t, 5, rows[len(rows)-1].StreamID)
}

func TestInsertSnapshot(t *testing.T) {
	h := openTestHistory(t)

	var img image.Image = image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, h.InsertSnapshot("Door", &img))

	data, err := h.getJSON("SELECT camera, photo FROM event_snapshot")
	require.NoError(t, err)
	assert.Contains(t, data, `"camera":"Door"`)
	assert.Contains(t, data, `"photo":"/9j/`)
}
