// Package config loads the platform configuration and watches it for changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
)

// Defaults of the platform configuration.
const (
	DefaultName          = "Hoffmation"
	DefaultServerAddress = "http://localhost:8080"
	DefaultPin           = "00102003"
	DefaultDataDir       = "Hoffmation"
	DefaultBackendAddr   = "0.0.0.0:8081"
	DefaultMetricsAddr   = "localhost:8383"
	DefaultMotionPoll    = 5 * time.Second
	DefaultWatchInterval = 2 * time.Second
)

// Video overrides the transcoding of cameras. Unset fields keep the value
// derived from the platform configuration.
type Video struct {
	StillImageSource string `json:"stillImageSource,omitempty"`
	MaxStreams       int    `json:"maxStreams,omitempty"`
	MaxWidth         int    `json:"maxWidth,omitempty"`
	MaxHeight        int    `json:"maxHeight,omitempty"`
	MaxFPS           int    `json:"maxFPS,omitempty"`
	MaxBitrate       int    `json:"maxBitrate,omitempty"`
	ForceMax         *bool  `json:"forceMax,omitempty"`
	VCodec           string `json:"vcodec,omitempty"`
	PacketSize       int    `json:"packetSize,omitempty"`
	VideoFilter      string `json:"videoFilter,omitempty"`
	EncoderOptions   string `json:"encoderOptions,omitempty"`
	MapVideo         string `json:"mapvideo,omitempty"`
	MapAudio         string `json:"mapaudio,omitempty"`
	Audio            *bool  `json:"audio,omitempty"`
}

// Config is the platform configuration.
type Config struct {
	Name                  string `json:"name"`
	ServerAddress         string `json:"serverAddress"`
	UseRtspStream         bool   `json:"useRtspStream"`
	UseCameraDevices      bool   `json:"useCameraDevices"`
	CameraRecordingActive bool   `json:"cameraRecordingActive"`
	DebugCameraVideo      bool   `json:"debugCameraVideo"`
	DebugCameraAudio      bool   `json:"debugCameraAudio"`

	Pin            string `json:"pin"`
	DataDir        string `json:"dataDir"`
	BackendAddr    string `json:"backendAddr"`
	MetricsAddr    string `json:"metricsAddr"`
	VideoProcessor string `json:"videoProcessor"`
	Prebuffer      bool   `json:"prebuffer"`
	// ReturnAudioTarget enables two-way audio, e.g. "-f alsa default".
	ReturnAudioTarget string `json:"returnAudioTarget"`
	// MotionPollSeconds is how often the motion state of cameras is polled.
	MotionPollSeconds int `json:"motionPollSeconds"`

	// Video applies to every camera. Cameras holds overrides by camera name or id.
	Video   Video            `json:"video"`
	Cameras map[string]Video `json:"cameras,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Name:             DefaultName,
		ServerAddress:    DefaultServerAddress,
		UseCameraDevices: true,
		Pin:              DefaultPin,
		DataDir:          DefaultDataDir,
		BackendAddr:      DefaultBackendAddr,
		MetricsAddr:      DefaultMetricsAddr,
		VideoProcessor:   ffmpeg.DefaultProcessor,
	}
}

// Load reads the configuration at path on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info.Printf("Configuration %s not found, using defaults", path)
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return errors.New("serverAddress is required")
	}
	if len(c.Pin) != 8 {
		return fmt.Errorf("pin must have 8 digits, got %q", c.Pin)
	}
	if c.MotionPollSeconds < 0 {
		return errors.New("motionPollSeconds must not be negative")
	}
	return nil
}

// MotionPoll returns the motion polling interval.
func (c *Config) MotionPoll() time.Duration {
	if c.MotionPollSeconds == 0 {
		return DefaultMotionPoll
	}
	return time.Duration(c.MotionPollSeconds) * time.Second
}

// HistoryFile returns the path of the sqlite history.
func (c *Config) HistoryFile() string {
	return filepath.Join(c.DataDir, "history.sqlite")
}

// StoragePath returns the HomeKit pairing storage of one camera.
func (c *Config) StoragePath(id string) string {
	return filepath.Join(c.DataDir, "accessories", id)
}

// VideoConfig builds the transcoding config of one camera. source holds the
// transcoder input arguments. Cameras pass their video through unless an
// override selects an encoder.
func (c *Config) VideoConfig(id, name, source string) ffmpeg.VideoConfig {
	v := ffmpeg.VideoConfig{
		Source:            source,
		VCodec:            ffmpeg.CodecCopy,
		ReturnAudioTarget: c.ReturnAudioTarget,
		Debug:             c.DebugCameraVideo,
		DebugReturn:       c.DebugCameraAudio,
		Recording:         c.CameraRecordingActive,
		Prebuffer:         c.Prebuffer,
	}

	c.Video.apply(&v)
	if o, ok := c.Cameras[id]; ok {
		o.apply(&v)
	}
	if o, ok := c.Cameras[name]; ok && name != id {
		o.apply(&v)
	}
	return v
}

func (o Video) apply(v *ffmpeg.VideoConfig) {
	if o.StillImageSource != "" {
		v.StillImageSource = o.StillImageSource
	}
	if o.MaxStreams != 0 {
		v.MaxStreams = o.MaxStreams
	}
	if o.MaxWidth != 0 {
		v.MaxWidth = o.MaxWidth
	}
	if o.MaxHeight != 0 {
		v.MaxHeight = o.MaxHeight
	}
	if o.MaxFPS != 0 {
		v.MaxFPS = o.MaxFPS
	}
	if o.MaxBitrate != 0 {
		v.MaxBitrate = o.MaxBitrate
	}
	if o.ForceMax != nil {
		v.ForceMax = *o.ForceMax
	}
	if o.VCodec != "" {
		v.VCodec = o.VCodec
	}
	if o.PacketSize != 0 {
		v.PacketSize = o.PacketSize
	}
	if o.VideoFilter != "" {
		v.VideoFilter = o.VideoFilter
	}
	if o.EncoderOptions != "" {
		v.EncoderOptions = o.EncoderOptions
	}
	if o.MapVideo != "" {
		v.MapVideo = o.MapVideo
	}
	if o.MapAudio != "" {
		v.MapAudio = o.MapAudio
	}
	if o.Audio != nil {
		v.Audio = *o.Audio
	}
}
