package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/ffmpeg"
)

// SnapshotTimeout bounds a snapshot GET.
const SnapshotTimeout = 20 * time.Second

// Client talks to the home automation server.
type Client struct {
	addr string
	http *http.Client
	fn   uint64
}

// NewClient returns a client for the server at addr, e.g. "http://192.168.1.2:8080".
func NewClient(addr string) *Client {
	return &Client{
		addr: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: SnapshotTimeout},
	}
}

// Device is the raw description of one device. Keys may carry a leading
// underscore depending on the server version.
type Device map[string]interface{}

func (d Device) field(key string) interface{} {
	if v, ok := d["_"+key]; ok && v != nil {
		return v
	}
	return d[key]
}

func (d Device) str(key string) string {
	s, _ := d.field(key).(string)
	return s
}

func (d Device) info() Device {
	m, _ := d.field("info").(map[string]interface{})
	return Device(m)
}

// ID returns the unique key of the device.
func (d Device) ID() string {
	info := d.info()
	for _, key := range []string{"allDevicesKey", "fullID", "fullName"} {
		if s := info.str(key); s != "" {
			return s
		}
	}
	return ""
}

// Name returns the display name of the device.
func (d Device) Name() string {
	info := d.info()
	if s := info.str("customName"); s != "" {
		return s
	}
	return info.str("fullName")
}

// RTSPURL returns the RTSP stream of a camera.
func (d Device) RTSPURL() string {
	return d.str("rtspStreamLink")
}

// StreamLink returns the HLS stream of a camera as a transport stream link.
func (d Device) StreamLink() string {
	return strings.Replace(d.str("h264IosStreamLink"), "/temp.m", "/temp.ts", 1)
}

// SnapshotURL returns the link of the current camera image.
func (d Device) SnapshotURL() string {
	return d.str("currentImageLink")
}

// IsCamera reports whether the device has a video stream.
func (d Device) IsCamera() bool {
	return d.str("h264IosStreamLink") != "" || d.RTSPURL() != ""
}

// MovementDetected reports the last motion state of the device.
func (d Device) MovementDetected() bool {
	b, _ := d.field("movementDetected").(bool)
	return b
}

// Source returns the transcoder input of a camera.
func (d Device) Source(rtsp bool) string {
	if rtsp && d.RTSPURL() != "" {
		return "-i " + d.RTSPURL()
	}
	return "-i " + d.StreamLink()
}

func (c *Client) get(ctx context.Context, rawurl string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("request failed: %s: status code %d", rawurl, resp.StatusCode)
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.get(ctx, c.addr+path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

// Devices returns all devices known to the server.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var data map[string]Device
	if err := c.getJSON(ctx, "/devices", &data); err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(data))
	for _, d := range data {
		devices = append(devices, d)
	}
	return devices, nil
}

// Device returns one device. It returns nil when the server knows no such device.
func (c *Client) Device(ctx context.Context, id string) (Device, error) {
	var d Device
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(id), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Cameras returns the devices with a video stream.
func (c *Client) Cameras(ctx context.Context) ([]Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}

	var cameras []Device
	for _, d := range devices {
		if d.IsCamera() {
			cameras = append(cameras, d)
		}
	}
	return cameras, nil
}

// Snapshot returns a FetchFunc loading the image at snapshotURL. Every request
// carries a new frame number so intermediate caches never answer it.
func (c *Client) Snapshot(snapshotURL string) ffmpeg.FetchFunc {
	return func(ctx context.Context) (*ffmpeg.Snapshot, error) {
		n := atomic.AddUint64(&c.fn, 1)
		sep := "&"
		if !strings.Contains(snapshotURL, "?") {
			sep = "?"
		}

		resp, err := c.get(ctx, fmt.Sprintf("%s%sfn=%d", snapshotURL, sep, n), "image/jpeg")
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		taken := issued(resp.Header)
		log.Debug.Printf("snapshot %d: %d bytes taken %s ago", n, len(data), time.Since(taken).Round(time.Millisecond))

		return &ffmpeg.Snapshot{Data: data, Taken: taken}, nil
	}
}

// issued returns when the server took the image.
func issued(h http.Header) time.Time {
	if ms, err := strconv.ParseInt(h.Get("X-Time-Millis"), 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := http.ParseTime(h.Get("Date")); err == nil {
		return t
	}
	return time.Now()
}
