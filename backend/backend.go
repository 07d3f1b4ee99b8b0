// Package backend talks to the home automation server and keeps the local
// history of recordings and event snapshots.
package backend

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"

	"github.com/brutella/hc/log"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hoffmation/hkhoffmation/recording"
)

// MaxHistory is the number of rows kept per table.
const MaxHistory = 100

const schema = `
CREATE TABLE IF NOT EXISTS recording_session (
"id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,
"stream_id" integer NOT NULL,
"camera" TEXT NOT NULL,
"started" DATETIME NOT NULL,
"ended" DATETIME NOT NULL,
"segments" integer NOT NULL,
"bytes" integer NOT NULL,
"reason" TEXT NOT NULL,
"file" TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS event_snapshot (
"id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,
"camera" TEXT NOT NULL,
"datetime" DATE DEFAULT (datetime('now')),
"photo" BLOB NOT NULL
);`

// History stores recording sessions and event snapshots in sqlite.
type History struct {
	dbFile   string
	dbHandle *sql.DB
}

// OpenHistory opens the database at dbFile and creates missing tables.
func OpenHistory(dbFile string) (*History, error) {
	if _, err := os.Stat(dbFile); os.IsNotExist(err) {
		log.Info.Println("Database created", dbFile)
	}

	log.Debug.Println("Open database", dbFile)
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &History{dbFile: dbFile, dbHandle: db}, nil
}

// Close closes the database.
func (b *History) Close() error {
	return b.dbHandle.Close()
}

// prune deletes the oldest rows of table beyond MaxHistory.
func (b *History) prune(table string) error {
	q := fmt.Sprintf(`
DELETE from %s WHERE id IN
(SELECT id FROM %s ORDER BY id DESC LIMIT -1 OFFSET ?)
`, table, table)

	_, err := b.dbHandle.Exec(q, MaxHistory-1)
	return err
}

// InsertSnapshot stores an event snapshot of camera.
func (b *History) InsertSnapshot(camera string, img *image.Image) error {
	if err := b.prune("event_snapshot"); err != nil {
		log.Info.Println("Delete old snapshot:", err)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, *img, nil); err != nil {
		return fmt.Errorf("JPEG: failed to create buffer: %w", err)
	}

	_, err := b.dbHandle.Exec(`INSERT INTO event_snapshot(camera, photo) VALUES (?, ?)`, camera, buf.Bytes())
	return err
}

// InsertRecording stores a finished recording session. file is the archive
// path for local recordings and empty otherwise.
func (b *History) InsertRecording(s recording.Summary, file string) error {
	if err := b.prune("recording_session"); err != nil {
		log.Info.Println("Delete old recording sessions:", err)
	}

	_, err := b.dbHandle.Exec(`
INSERT INTO recording_session(stream_id, camera, started, ended, segments, bytes, reason, file)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.StreamID, s.Camera, s.Started.UTC(), s.Ended.UTC(), s.Segments, s.Bytes, s.Reason.String(), file)
	return err
}

// RecordingRow is one stored recording session.
type RecordingRow struct {
	ID       int64
	StreamID int
	Camera   string
	Started  time.Time
	Ended    time.Time
	Segments int
	Bytes    int
	Reason   string
	File     string
}

// Recordings returns the stored recording sessions, newest first.
func (b *History) Recordings() ([]RecordingRow, error) {
	rows, err := b.dbHandle.Query(`
SELECT id, stream_id, camera, started, ended, segments, bytes, reason, file
FROM recording_session ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RecordingRow
	for rows.Next() {
		var r RecordingRow
		if err := rows.Scan(&r.ID, &r.StreamID, &r.Camera, &r.Started, &r.Ended, &r.Segments, &r.Bytes, &r.Reason, &r.File); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// getJSON dumps the result of a query as a JSON array of objects. Blobs are base64 encoded.
func (b *History) getJSON(sqlString string) (string, error) {
	stmt, err := b.dbHandle.Prepare(sqlString)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	rows, err := stmt.Query()
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	tableData := make([]map[string]interface{}, 0)

	count := len(columns)
	values := make([]interface{}, count)
	scanArgs := make([]interface{}, count)
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		err := rows.Scan(scanArgs...)
		if err != nil {
			return "", err
		}

		entry := make(map[string]interface{})
		for i, col := range columns {
			v := values[i]

			b, ok := v.([]byte)
			if ok {
				entry[col] = base64.StdEncoding.EncodeToString(b)
			} else {
				entry[col] = v
			}
		}

		tableData = append(tableData, entry)
	}

	jsonData, err := json.Marshal(tableData)
	if err != nil {
		return "", err
	}

	return string(jsonData), nil
}
