// Package store provides SQLite-backed persistence for all simulator state:
// personas, projects, plans, reports, events, runtime inboxes, and the
// simulation counters. It is the only path to disk.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. All mutating operations run in short
// transactions; WAL mode keeps readers unblocked during the tick pipeline.
type Store struct {
	db   *sql.DB
	path string
}

// SimulationState is the singleton state row (id=1).
type SimulationState struct {
	CurrentTick int
	IsRunning   bool
	AutoTick    bool
}

// TickLogEntry is one append-only tick log row.
type TickLogEntry struct {
	Tick      int
	Reason    string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS people (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	email_address TEXT NOT NULL,
	chat_handle TEXT NOT NULL,
	work_hours TEXT NOT NULL DEFAULT '09:00-17:00',
	break_frequency TEXT NOT NULL DEFAULT '',
	communication_style TEXT NOT NULL DEFAULT '',
	skills TEXT NOT NULL DEFAULT '',
	personality TEXT NOT NULL DEFAULT '',
	objectives TEXT NOT NULL DEFAULT '',
	metrics TEXT NOT NULL DEFAULT '',
	planning_guidelines TEXT NOT NULL DEFAULT '',
	event_playbook TEXT NOT NULL DEFAULT '',
	status_vocabulary TEXT NOT NULL DEFAULT '[]',
	is_department_head INTEGER NOT NULL DEFAULT 0,
	markdown_profile TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS schedule_blocks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	person_id INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
	label TEXT NOT NULL,
	start_minute INTEGER NOT NULL,
	end_minute INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS simulation_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	current_tick INTEGER NOT NULL DEFAULT 0,
	is_running INTEGER NOT NULL DEFAULT 0,
	auto_tick INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tick_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	target_ids TEXT NOT NULL DEFAULT '[]',
	project_id INTEGER,
	at_tick INTEGER,
	delivered_at_tick INTEGER,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS project_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_name TEXT NOT NULL,
	project_summary TEXT NOT NULL DEFAULT '',
	plan TEXT NOT NULL DEFAULT '',
	generated_by INTEGER,
	start_week INTEGER NOT NULL DEFAULT 0,
	duration_weeks INTEGER NOT NULL DEFAULT 1,
	model_used TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS project_assignments (
	project_id INTEGER NOT NULL REFERENCES project_plans(id) ON DELETE CASCADE,
	person_id INTEGER NOT NULL REFERENCES people(id) ON DELETE CASCADE,
	PRIMARY KEY (project_id, person_id)
);

CREATE TABLE IF NOT EXISTS project_chat_rooms (
	project_id INTEGER PRIMARY KEY REFERENCES project_plans(id) ON DELETE CASCADE,
	room_slug TEXT NOT NULL,
	room_name TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	archived_at TEXT
);

CREATE TABLE IF NOT EXISTS worker_plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	person_id INTEGER NOT NULL,
	tick INTEGER NOT NULL,
	plan_type TEXT NOT NULL CHECK (plan_type IN ('daily','hourly')),
	content TEXT NOT NULL DEFAULT '',
	model_used TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	context TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	UNIQUE (person_id, tick, plan_type)
);

CREATE TABLE IF NOT EXISTS hourly_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	person_id INTEGER NOT NULL,
	hour_index INTEGER NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	model_used TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	UNIQUE (person_id, hour_index)
);

CREATE TABLE IF NOT EXISTS daily_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	person_id INTEGER NOT NULL,
	day_index INTEGER NOT NULL,
	report TEXT NOT NULL DEFAULT '',
	schedule_outline TEXT NOT NULL DEFAULT '',
	model_used TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	UNIQUE (person_id, day_index)
);

CREATE TABLE IF NOT EXISTS simulation_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS worker_runtime_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL DEFAULT 0,
	sender_name TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	action_item TEXT,
	message_type TEXT NOT NULL DEFAULT 'update',
	channel TEXT NOT NULL DEFAULT 'system',
	tick INTEGER NOT NULL DEFAULT 0,
	message_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS worker_exchange_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tick INTEGER NOT NULL,
	channel TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	thread_id TEXT NOT NULL DEFAULT '',
	sent_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchange_tick ON worker_exchange_log(tick);

CREATE TABLE IF NOT EXISTS worker_status_overrides (
	worker_id INTEGER PRIMARY KEY,
	status TEXT NOT NULL,
	until_tick INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO simulation_state (id, current_tick, is_running, auto_tick) VALUES (1, 0, 0, 0);
`

// Open opens (creating if needed) the simulator database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// migrate applies additive migrations for databases created by older builds.
func migrate(db *sql.DB) error {
	// worker_plans.context arrived after the first release.
	if err := addColumnIfMissing(db, "worker_plans", "context", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "daily_reports", "schedule_outline", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := addColumnIfMissing(db, "events", "delivered_at_tick", "INTEGER"); err != nil {
		return err
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if found {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetSimulationState reads the singleton state row.
func (s *Store) GetSimulationState() (SimulationState, error) {
	var st SimulationState
	var running, auto int
	err := s.db.QueryRow(
		`SELECT current_tick, is_running, auto_tick FROM simulation_state WHERE id = 1`,
	).Scan(&st.CurrentTick, &running, &auto)
	if err != nil {
		return st, fmt.Errorf("store: get simulation state: %w", err)
	}
	st.IsRunning = running != 0
	st.AutoTick = auto != 0
	return st, nil
}

// SetTick updates current_tick and appends the tick log row in one transaction.
func (s *Store) SetTick(tick int, reason string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: set tick: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE simulation_state SET current_tick = ? WHERE id = 1`, tick); err != nil {
		return fmt.Errorf("store: set tick: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO tick_log (tick, reason, created_at) VALUES (?, ?, ?)`,
		tick, reason, nowISO(),
	); err != nil {
		return fmt.Errorf("store: set tick: log: %w", err)
	}
	return tx.Commit()
}

// SetRunning flips the is_running flag.
func (s *Store) SetRunning(running bool) error {
	_, err := s.db.Exec(`UPDATE simulation_state SET is_running = ? WHERE id = 1`, boolInt(running))
	if err != nil {
		return fmt.Errorf("store: set running: %w", err)
	}
	return nil
}

// SetAutoTick flips the auto_tick flag.
func (s *Store) SetAutoTick(auto bool) error {
	_, err := s.db.Exec(`UPDATE simulation_state SET auto_tick = ? WHERE id = 1`, boolInt(auto))
	if err != nil {
		return fmt.Errorf("store: set auto tick: %w", err)
	}
	return nil
}

// TickLog returns the tick log in insertion order, newest last.
func (s *Store) TickLog(limit int) ([]TickLogEntry, error) {
	q := `SELECT tick, reason, created_at FROM tick_log ORDER BY id`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		q += ` DESC LIMIT ?`
		rows, err = s.db.Query(q, limit)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, fmt.Errorf("store: tick log: %w", err)
	}
	defer rows.Close()

	var out []TickLogEntry
	for rows.Next() {
		var e TickLogEntry
		var created string
		if err := rows.Scan(&e.Tick, &e.Reason, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// derivedTables are truncated on every reset; they are all rebuilt by the
// engine as the simulation advances.
var derivedTables = []string{
	"worker_plans",
	"hourly_summaries",
	"daily_reports",
	"simulation_reports",
	"events",
	"tick_log",
	"worker_runtime_messages",
	"worker_status_overrides",
	"project_assignments",
	"project_chat_rooms",
	"project_plans",
	"worker_exchange_log",
}

// ResetSimulation truncates derived state and zeroes the state row. With
// preservePersonas=true the people and schedule_blocks tables survive.
func (s *Store) ResetSimulation(preservePersonas bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: reset: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range derivedTables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("store: reset: truncate %s: %w", table, err)
		}
	}
	if !preservePersonas {
		if _, err := tx.Exec(`DELETE FROM schedule_blocks`); err != nil {
			return fmt.Errorf("store: reset: truncate schedule_blocks: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM people`); err != nil {
			return fmt.Errorf("store: reset: truncate people: %w", err)
		}
	}
	if _, err := tx.Exec(
		`UPDATE simulation_state SET current_tick = 0, is_running = 0, auto_tick = 0 WHERE id = 1`,
	); err != nil {
		return fmt.Errorf("store: reset: state row: %w", err)
	}
	return tx.Commit()
}

// HardReset drops the database file and recreates the schema. Only safe while
// the tick scheduler is stopped.
func (s *Store) HardReset() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: hard reset: close: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: hard reset: remove %s%s: %w", s.path, suffix, err)
		}
	}
	fresh, err := Open(s.path)
	if err != nil {
		return fmt.Errorf("store: hard reset: reopen: %w", err)
	}
	s.db = fresh.db
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
