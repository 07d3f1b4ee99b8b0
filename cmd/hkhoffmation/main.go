package main

import (
	"context"
	"errors"
	"flag"
	"image"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hoffmation/hkhoffmation"
	"github.com/hoffmation/hkhoffmation/backend"
	"github.com/hoffmation/hkhoffmation/config"
	"github.com/hoffmation/hkhoffmation/ffmpeg"
	"github.com/hoffmation/hkhoffmation/metrics"
	"github.com/hoffmation/hkhoffmation/recording"
)

// motionRecording is the length of the local recording started on motion.
const motionRecording = 30 * time.Second

// camera is one discovered camera and everything that runs for it.
type camera struct {
	device     backend.Device
	controller *hkhoffmation.Controller
	prebuffer  *recording.Prebuffer
	transport  hc.Transport
}

func main() {
	var configFile *string = flag.String("config", "config.json", "Path to the platform configuration")
	var verbose *bool = flag.Bool("verbose", false, "Verbose logging")
	var dataDir *string = flag.String("data_dir", config.DefaultDataDir, "Path to data directory")
	var pin *string = flag.String("pin", config.DefaultPin, "Pin used to associate the accessories to Homekit")
	var serverAddress *string = flag.String("server_address", config.DefaultServerAddress, "address of the home automation server")
	var videoProcessor *string = flag.String("video_processor", ffmpeg.DefaultProcessor, "path of the ffmpeg binary")
	var profileAddr *string = flag.String("profile_addr", config.DefaultMetricsAddr, "address:port of the metrics and pprof endpoint")
	var backendAddr *string = flag.String("backend_addr", config.DefaultBackendAddr, "address:port of the backend web service")

	flag.Parse()

	if *verbose {
		log.Debug.Enable()
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Info.Fatal(err)
	}

	// flags given on the command line win over the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data_dir":
			cfg.DataDir = *dataDir
		case "pin":
			cfg.Pin = *pin
		case "server_address":
			cfg.ServerAddress = *serverAddress
		case "video_processor":
			cfg.VideoProcessor = *videoProcessor
		case "profile_addr":
			cfg.MetricsAddr = *profileAddr
		case "backend_addr":
			cfg.BackendAddr = *backendAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Info.Fatal(err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Info.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := backend.NewClient(cfg.ServerAddress)

	var devices []backend.Device
	if cfg.UseCameraDevices {
		devices, err = client.Cameras(ctx)
		if err != nil {
			log.Info.Fatalf("Discover cameras at %s: %v", cfg.ServerAddress, err)
		}
	}
	log.Info.Printf("Found %d cameras", len(devices))

	history, err := backend.OpenHistory(cfg.HistoryFile())
	if err != nil {
		log.Info.Panic(err)
	}

	web := backend.NewWebService(history, cfg.DataDir, cfg.BackendAddr)
	m := metrics.New(prometheus.DefaultRegisterer)
	ports := ffmpeg.NewPortReserver(ffmpeg.ReserveTimeout)

	var cameras []*camera
	for _, d := range devices {
		c, err := setupCamera(cfg, d, client, history, m, ports)
		if err != nil {
			log.Info.Printf("[%s] %v", d.Name(), err)
			continue
		}
		web.AddCamera(c.controller)
		cameras = append(cameras, c)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, c := range cameras {
		t := c.transport
		g.Go(func() error {
			t.Start()
			return nil
		})
	}

	g.Go(func() error {
		return web.ListenAndServe()
	})

	// metrics and pprof share the default mux
	http.Handle("/metrics", promhttp.Handler())
	profile := &http.Server{Addr: cfg.MetricsAddr}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			log.Debug.Println("Start metrics and pprof at " + cfg.MetricsAddr)
			if err := profile.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		err := config.Watch(ctx, *configFile, config.DefaultWatchInterval, func(next *config.Config) {
			for _, c := range cameras {
				id, name := c.device.ID(), c.device.Name()
				c.controller.SetConfig(next.VideoConfig(id, name, c.device.Source(next.UseRtspStream)))
			}
		})
		if err != nil {
			log.Info.Println("Configuration is not watched:", err)
		}
		return nil
	})

	g.Go(func() error {
		pollMotion(ctx, cfg.MotionPoll(), client, cameras, history, web)
		return nil
	})

	// close all connection when exit
	hc.OnTermination(func() {
		cancel()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdown(cameras, web, profile, history)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Info.Fatal(err)
	}
}

func shutdown(cameras []*camera, web *backend.WebService, profile *http.Server, history *backend.History) {
	for _, c := range cameras {
		<-c.transport.Stop()
		c.controller.Close()
		c.prebuffer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := web.Shutdown(ctx); err != nil {
		log.Info.Println(err)
	}
	if err := profile.Shutdown(ctx); err != nil {
		log.Info.Println(err)
	}
	if err := history.Close(); err != nil {
		log.Info.Println(err)
	}
}

func setupCamera(cfg *config.Config, d backend.Device, client *backend.Client, history *backend.History, m *metrics.Metrics, ports *ffmpeg.PortReserver) (*camera, error) {
	id, name := d.ID(), d.Name()
	videoCfg := cfg.VideoConfig(id, name, d.Source(cfg.UseRtspStream))
	log.Debug.Printf("[%s] Creating camera with video %q", name, videoCfg.Source)

	fetch := ffmpeg.TranscoderSnapshot(cfg.VideoProcessor, videoCfg)
	if url := d.SnapshotURL(); url != "" {
		fetch = client.Snapshot(url)
	}
	snapshots := ffmpeg.NewSnapshotCache(name, fetch, ffmpeg.SnapshotLifetime)
	snapshots.OnFetch = func(err error) {
		m.SnapshotFetched(name, err)
	}

	prebuffer := recording.NewPrebuffer(recording.PrebufferOptions{
		Name:      name,
		Processor: cfg.VideoProcessor,
		Source:    videoCfg.SourceArgs(),
		Debug:     videoCfg.Debug,
		Metrics:   m,
	})

	var controller *hkhoffmation.Controller
	live := ffmpeg.New(ffmpeg.Options{
		Name:      name,
		Processor: cfg.VideoProcessor,
		Config:    videoCfg,
		Snapshots: snapshots,
		Ports:     ports,
		Metrics:   m,
		OnInactive: func(id ffmpeg.StreamID) {
			controller.StreamInactive(id)
		},
	})
	recordings := recording.NewManager(recording.Options{
		Name:      name,
		Processor: cfg.VideoProcessor,
		Config:    videoCfg,
		Prebuffer: prebuffer,
		Metrics:   m,
		OnClosed: func(s recording.Summary) {
			controller.RecordingClosed(s)
		},
	})

	info := accessory.Info{
		Name:             name,
		FirmwareRevision: "1.0",
		SerialNumber:     id,
		Manufacturer:     "Hoffmation",
		Model:            "Camera",
	}
	streams := videoCfg.MaxStreams
	if streams == 0 {
		streams = 2
	}
	cam := hkhoffmation.NewCamera(info, streams)

	controller = hkhoffmation.NewController(cam, hkhoffmation.Options{
		Name:            name,
		Live:            live,
		Snapshots:       snapshots,
		Recordings:      recordings,
		RecordingActive: cfg.CameraRecordingActive,
		OnRecorded: func(s recording.Summary, file string) {
			if err := history.InsertRecording(s, file); err != nil {
				log.Info.Printf("[%s] store recording: %v", name, err)
			}
		},
	})

	// configure homekit
	t, err := hc.NewIPTransport(hc.Config{Pin: cfg.Pin, StoragePath: cfg.StoragePath(id)}, cam.Accessory)
	if err != nil {
		return nil, err
	}

	// enable snapshot callback
	t.CameraSnapshotReq = func(width, height uint) (*image.Image, error) {
		return controller.Snapshot(width, height)
	}

	return &camera{device: d, controller: controller, prebuffer: prebuffer, transport: t}, nil
}

// pollMotion mirrors the motion state of the cameras. When motion starts an
// event snapshot is stored and, with recording active, a local recording is
// archived.
func pollMotion(ctx context.Context, interval time.Duration, client *backend.Client, cameras []*camera, history *backend.History, web *backend.WebService) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, c := range cameras {
			d, err := client.Device(ctx, c.device.ID())
			if err != nil || d == nil {
				log.Debug.Printf("[%s] poll motion: %v", c.device.Name(), err)
				continue
			}
			if !c.controller.SetMotion(d.MovementDetected()) {
				continue
			}

			log.Info.Printf("[%s] >>> Motion detected <<<", c.controller.Name())
			go onMotion(c.controller, history, web)
		}
	}
}

func onMotion(c *hkhoffmation.Controller, history *backend.History, web *backend.WebService) {
	// this is the size used by preview on IOS
	img, err := c.Snapshot(1280, 960)
	if img != nil && err == nil {
		if err := history.InsertSnapshot(c.Name(), img); err != nil {
			log.Info.Printf("[%s] store snapshot: %v", c.Name(), err)
		}
	}

	if c.RecordingActive() {
		if _, err := web.Archive(c, motionRecording); err != nil {
			log.Info.Printf("[%s] motion recording: %v", c.Name(), err)
		}
	}
}
