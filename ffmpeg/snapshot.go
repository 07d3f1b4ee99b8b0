package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"
	"time"

	"github.com/brutella/hc/log"
	"github.com/nfnt/resize"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	// SnapshotLifetime is how long a snapshot is served without fetching a new one.
	SnapshotLifetime = 5 * time.Second
	// SnapshotGrace keeps a snapshot cached beyond its lifetime.
	SnapshotGrace = 2 * time.Minute

	snapshotFetchTimeout = 20 * time.Second
	snapshotKey          = "snapshot"
)

// ErrNoSnapshot is returned instead of an empty or partial image.
var ErrNoSnapshot = errors.New("No Snapshot Cached")

// Snapshot is a still image and the time it was taken.
type Snapshot struct {
	Data  []byte
	Taken time.Time
}

// FetchFunc loads a fresh snapshot.
type FetchFunc func(ctx context.Context) (*Snapshot, error)

// SnapshotCache serves one cached still image per camera. Requests arriving
// while a fetch is running wait for that fetch instead of starting another one.
type SnapshotCache struct {
	name     string
	fetch    FetchFunc
	lifetime time.Duration
	entries  *cache.Cache
	group    singleflight.Group

	// OnFetch is called with the outcome of every backend fetch.
	OnFetch func(err error)

	now func() time.Time
}

// NewSnapshotCache returns a cache for the camera called name.
func NewSnapshotCache(name string, fetch FetchFunc, lifetime time.Duration) *SnapshotCache {
	if lifetime <= 0 {
		lifetime = SnapshotLifetime
	}
	return &SnapshotCache{
		name:     name,
		fetch:    fetch,
		lifetime: lifetime,
		entries:  cache.New(lifetime+SnapshotGrace, time.Minute),
		now:      time.Now,
	}
}

// Get returns the cached snapshot while it is within its lifetime, otherwise
// it fetches a new one.
func (c *SnapshotCache) Get(ctx context.Context) ([]byte, error) {
	if v, found := c.entries.Get(snapshotKey); found {
		s := v.(*Snapshot)
		if c.now().Sub(s.Taken) < c.lifetime {
			return s.Data, nil
		}
	}

	ch := c.group.DoChan(snapshotKey, func() (interface{}, error) {
		return c.load()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot).Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached snapshot.
func (c *SnapshotCache) Invalidate() {
	c.entries.Delete(snapshotKey)
}

func (c *SnapshotCache) load() (*Snapshot, error) {
	start := c.now()
	ctx, cancel := context.WithTimeout(context.Background(), snapshotFetchTimeout)
	defer cancel()

	s, err := c.fetch(ctx)
	if err == nil && (s == nil || len(s.Data) == 0) {
		err = errors.New("empty image")
	}
	if c.OnFetch != nil {
		c.OnFetch(err)
	}
	if err != nil {
		c.Invalidate()
		log.Debug.Printf("[%s] Failed to cache snapshot (%.1fs): %v", c.name, c.now().Sub(start).Seconds(), err)
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}

	if s.Taken.IsZero() {
		s.Taken = c.now()
	}
	c.entries.SetDefault(snapshotKey, s)

	return s, nil
}

// Image decodes the current snapshot and scales it down to fit width x height.
func (c *SnapshotCache) Image(ctx context.Context, width, height uint) (*image.Image, error) {
	data, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}

	b := img.Bounds()
	if width > 0 && height > 0 && (uint(b.Dx()) > width || uint(b.Dy()) > height) {
		img = resize.Thumbnail(width, height, img, resize.Lanczos3)
	}

	return &img, nil
}

// TranscoderSnapshot returns a FetchFunc grabbing a single frame of the camera source.
func TranscoderSnapshot(path string, cfg VideoConfig) FetchFunc {
	if path == "" {
		path = DefaultProcessor
	}

	return func(ctx context.Context) (*Snapshot, error) {
		jpg, err := exec.CommandContext(ctx, path, SnapshotArgs(cfg)...).Output()
		if err != nil {
			return nil, err
		}
		return &Snapshot{Data: jpg, Taken: time.Now()}, nil
	}
}
