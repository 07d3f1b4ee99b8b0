package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
)

const sample = `{
  "name": "House",
  "serverAddress": "http://hoffmation:8080",
  "useRtspStream": true,
  "useCameraDevices": true,
  "debugCameraVideo": true,
  "prebuffer": true,
  "motionPollSeconds": 2,
  "video": {"maxWidth": 1280, "maxHeight": 720, "audio": true},
  "cameras": {
    "Garage": {"vcodec": "libx264", "maxFPS": 15, "audio": false},
    "cam-door": {"forceMax": true}
  }
}`

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "House", c.Name)
	assert.True(t, c.UseRtspStream)
	assert.Equal(t, DefaultPin, c.Pin)
	assert.Equal(t, DefaultDataDir, c.DataDir)
	assert.Equal(t, ffmpeg.DefaultProcessor, c.VideoProcessor)
	assert.Equal(t, 2*time.Second, c.MotionPoll())
	assert.Equal(t, filepath.Join(DefaultDataDir, "history.sqlite"), c.HistoryFile())
}

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, DefaultMotionPoll, c.MotionPoll())
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "{"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"pin": "123"}`))
	assert.ErrorContains(t, err, "pin")

	_, err = Load(writeConfig(t, `{"serverAddress": ""}`))
	assert.ErrorContains(t, err, "serverAddress")
}

func TestVideoConfig(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	garage := c.VideoConfig("cam-garage", "Garage", "-i rtsp://garage")
	assert.Equal(t, ffmpeg.VideoConfig{
		Source:    "-i rtsp://garage",
		MaxWidth:  1280,
		MaxHeight: 720,
		MaxFPS:    15,
		VCodec:    "libx264",
		Debug:     true,
		Prebuffer: true,
	}, garage)

	door := c.VideoConfig("cam-door", "Door", "-i rtsp://door")
	assert.Equal(t, ffmpeg.CodecCopy, door.VCodec)
	assert.True(t, door.ForceMax)
	assert.True(t, door.Audio)
	assert.True(t, door.IsPassThrough())
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, sample)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		})
	}()

	// Let the watcher take its first listing before the file changes.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "Renamed", "serverAddress": "http://other"}`), 0644))

	select {
	case c := <-changes:
		assert.Equal(t, "Renamed", c.Name)
		assert.Equal(t, "http://other", c.ServerAddress)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
