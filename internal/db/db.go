// Package db stores telemetry sessions, readings and issued commands in
// SQLite so runs can be inspected and plotted after the fact.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
	"github.com/banshee-data/twin.bridge/internal/twin"
)

type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// NewDB opens (creating if needed) the database at path, applies connection
// pragmas and brings the schema up to date.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serialises writes anyway and WAL lets readers proceed
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// Session is one run of the bridge.
type Session struct {
	ID         string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	ListenPort int       `json:"listen_port"`
	Peer       string    `json:"peer"`
}

// StartSession records a new session and returns it.
func (db *DB) StartSession(listenPort int, peer string, at time.Time) (Session, error) {
	s := Session{
		ID:         uuid.NewString(),
		StartedAt:  at.UTC(),
		ListenPort: listenPort,
		Peer:       peer,
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, listen_port, peer) VALUES (?, ?, ?, ?)`,
		s.ID, s.StartedAt, s.ListenPort, s.Peer,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	monitoring.Infof("Recording session %s (listen %d, peer %s)", s.ID, listenPort, peer)
	return s, nil
}

// Sessions returns the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, started_at, listen_port, peer FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.ListenPort, &s.Peer); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ReadingRow is a stored reading.
type ReadingRow struct {
	SessionID string `json:"session_id"`
	twin.Reading
}

// RecordReading stores r under sessionID. UpdatedAt is used as the record time.
func (db *DB) RecordReading(sessionID string, r twin.Reading) error {
	_, err := db.Exec(
		`INSERT INTO readings (session_id, seq, joint_a, joint_b, joint_c, plate, distance, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.Sequence, r.JointA, r.JointB, r.JointC, r.Plate, r.Distance, r.UpdatedAt.UTC(),
	)
	return err
}

const readingColumns = `session_id, seq, joint_a, joint_b, joint_c, plate, distance, recorded_at`

func scanReadings(rows *sql.Rows) ([]ReadingRow, error) {
	defer rows.Close()
	var out []ReadingRow
	for rows.Next() {
		var row ReadingRow
		if err := rows.Scan(
			&row.SessionID,
			&row.Sequence,
			&row.JointA,
			&row.JointB,
			&row.JointC,
			&row.Plate,
			&row.Distance,
			&row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentReadings returns up to limit readings, newest first.
func (db *DB) RecentReadings(limit int) ([]ReadingRow, error) {
	rows, err := db.Query(
		`SELECT `+readingColumns+` FROM readings ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

// ReadingsSince returns readings recorded at or after since, oldest first.
func (db *DB) ReadingsSince(since time.Time) ([]ReadingRow, error) {
	rows, err := db.Query(
		`SELECT `+readingColumns+` FROM readings WHERE recorded_at >= ? ORDER BY recorded_at ASC, rowid ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

// CommandRecord is one command issued to the device.
type CommandRecord struct {
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

func (c *CommandRecord) String() string {
	status := "ok"
	if !c.OK {
		status = "failed: " + c.Error
	}
	return fmt.Sprintf("%s -> %s:%d (%s)", c.Command, c.Host, c.Port, status)
}

func (db *DB) RecordCommand(c CommandRecord) error {
	_, err := db.Exec(
		`INSERT INTO commands (session_id, command, host, port, ok, error, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Command, c.Host, c.Port, c.OK, c.Error, c.SentAt.UTC(),
	)
	return err
}

// RecentCommands returns up to limit commands, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	rows, err := db.Query(
		`SELECT session_id, command, host, port, ok, error, sent_at FROM commands ORDER BY command_id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []CommandRecord
	for rows.Next() {
		var c CommandRecord
		if err := rows.Scan(&c.SessionID, &c.Command, &c.Host, &c.Port, &c.OK, &c.Error, &c.SentAt); err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}
