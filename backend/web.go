package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/hc/log"

	"github.com/hoffmation/hkhoffmation/recording"
)

// MaxLocalRecording caps the length of a recording triggered over HTTP.
const MaxLocalRecording = 5 * time.Minute

// Camera is what the web service needs from a camera.
type Camera interface {
	Name() string
	// SnapshotJPEG returns the current image.
	SnapshotJPEG(ctx context.Context) ([]byte, error)
	// Record records for d and returns the packets of the recording. file is
	// where the recording is archived.
	Record(ctx context.Context, d time.Duration, file string) (<-chan recording.Packet, error)
}

// WebService serves the history and lets users look at and record cameras.
type WebService struct {
	history *History
	dataDir string
	addr    string

	mutex   sync.Mutex
	cameras map[string]Camera
	server  *http.Server
	wg      sync.WaitGroup
}

// NewWebService returns a web service listening on addr. Local recordings are
// archived below dataDir.
func NewWebService(history *History, dataDir, addr string) *WebService {
	return &WebService{
		history: history,
		dataDir: dataDir,
		addr:    addr,
		cameras: make(map[string]Camera),
	}
}

// AddCamera makes a camera available under its name.
func (b *WebService) AddCamera(c Camera) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.cameras[c.Name()] = c
}

func (b *WebService) camera(name string) (Camera, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	c, ok := b.cameras[name]
	return c, ok
}

// Handler returns the routes of the web service.
func (b *WebService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", b.getHome)
	mux.HandleFunc("GET /recordings", b.getRecordings)
	mux.HandleFunc("GET /snapshots", b.getSnapshots)
	mux.HandleFunc("GET /cameras/{name}/snapshot", b.getCameraSnapshot)
	mux.HandleFunc("POST /cameras/{name}/record", b.postRecord)
	return mux
}

// Serve serves until the listener fails or Shutdown is called.
func (b *WebService) Serve(l net.Listener) error {
	b.mutex.Lock()
	b.server = &http.Server{Handler: b.Handler()}
	srv := b.server
	b.mutex.Unlock()

	log.Info.Println("Backend is listening at " + l.Addr().String())
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (b *WebService) ListenAndServe() error {
	l, err := net.Listen("tcp", b.addr)
	if err != nil {
		return err
	}
	return b.Serve(l)
}

// Shutdown stops the server and waits for running archive writers.
func (b *WebService) Shutdown(ctx context.Context) error {
	b.mutex.Lock()
	srv := b.server
	b.mutex.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	b.wg.Wait()
	return err
}

func (b *WebService) getSnapshots(w http.ResponseWriter, r *http.Request) {
	log.Debug.Println("WebService: getSnapshots requested")
	b.writeJSON(w, "SELECT * from event_snapshot ORDER BY id DESC")
}

func (b *WebService) getRecordings(w http.ResponseWriter, r *http.Request) {
	log.Debug.Println("WebService: getRecordings requested")
	b.writeJSON(w, "SELECT * from recording_session ORDER BY id DESC")
}

func (b *WebService) writeJSON(w http.ResponseWriter, query string) {
	data, err := b.history.getJSON(query)
	if err != nil {
		log.Info.Println(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, data)
}

var homepage = template.Must(template.New("home").Funcs(template.FuncMap{
	"b64": func(b []byte) string { return base64.StdEncoding.EncodeToString(b) },
}).Parse(`
<html>
<head>
<title>Backend</title>
<style>
th, td {
  padding: 15px;
  border-spacing: 5px;
  text-align: center;
}
</style>
</head>
<body>
<table style="width:800;margin-left:auto;margin-right:auto;">
<tr><th>Camera</th><th>Started</th><th>Duration</th><th>Segments</th><th>Reason</th><th>File</th></tr>
{{range .Recordings}}<tr><td>{{.Camera}}</td><td>{{.Started.Local.Format "2006-01-02 15:04:05"}}</td><td>{{.Ended.Sub .Started}}</td><td>{{.Segments}}</td><td>{{.Reason}}</td><td>{{.File}}</td></tr>
{{end}}</table>
<table style="width:800;margin-left:auto;margin-right:auto;">
<tr><th>Camera</th><th>Date and Time</th><th>Snapshot</th></tr>
{{range .Snapshots}}<tr><td>{{.Camera}}</td><td>{{.Datetime}}</td><td><img src="data:image/jpeg;base64,{{b64 .Photo}}" alt=snapshot width=300 /></td></tr>
{{end}}</table>
</body>
</html>
`))

type snapshotRow struct {
	Camera   string
	Datetime string
	Photo    []byte
}

func (b *WebService) getHome(w http.ResponseWriter, r *http.Request) {
	log.Debug.Println("WebService: getHome requested")

	recordings, err := b.history.Recordings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows, err := b.history.dbHandle.Query("SELECT camera, datetime, photo FROM event_snapshot ORDER BY id DESC")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var snapshots []snapshotRow
	for rows.Next() {
		var s snapshotRow
		if err := rows.Scan(&s.Camera, &s.Datetime, &s.Photo); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snapshots = append(snapshots, s)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homepage.Execute(w, struct {
		Recordings []RecordingRow
		Snapshots  []snapshotRow
	}{recordings, snapshots}); err != nil {
		log.Info.Println(err)
	}
}

func (b *WebService) getCameraSnapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := b.camera(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	jpg, err := c.SnapshotJPEG(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

func (b *WebService) postRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := b.camera(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	seconds, err := strconv.Atoi(r.URL.Query().Get("seconds"))
	if err != nil || seconds <= 0 {
		http.Error(w, "seconds must be a positive number", http.StatusBadRequest)
		return
	}
	d := time.Duration(seconds) * time.Second
	if d > MaxLocalRecording {
		d = MaxLocalRecording
	}

	path, err := b.Archive(c, d)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"camera":  c.Name(),
		"seconds": int(d.Seconds()),
		"file":    path,
	})
}

// Archive records camera c for d and writes the recording below the data
// directory. It returns the path of the archive.
func (b *WebService) Archive(c Camera, d time.Duration) (string, error) {
	path := b.recordingPath(c.Name(), time.Now())
	packets, err := c.Record(context.Background(), d, path)
	if err != nil {
		return "", err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		n, err := WriteRecording(path, packets)
		if err != nil {
			log.Info.Printf("[%s] archive recording: %v", c.Name(), err)
			return
		}
		log.Info.Printf("[%s] Recording archived to %s (%d bytes)", c.Name(), path, n)
	}()

	return path, nil
}

func (b *WebService) recordingPath(camera string, t time.Time) string {
	return filepath.Join(b.dataDir, "recordings", fmt.Sprintf("%s-%d.mp4", fileSafe(camera), t.UnixNano()))
}

// fileSafe maps a camera name onto a single path element.
func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// WriteRecording writes the fragments of a recording to path until the last
// packet. It returns the number of bytes written.
func WriteRecording(path string, packets <-chan recording.Packet) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		drain(packets)
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		drain(packets)
		return 0, err
	}
	defer f.Close()

	var n int64
	for p := range packets {
		if p.IsLast {
			continue
		}
		m, err := f.Write(p.Data)
		n += int64(m)
		if err != nil {
			drain(packets)
			return n, err
		}
	}

	return n, f.Sync()
}

func drain(packets <-chan recording.Packet) {
	for range packets {
	}
}
