// Package persistence provides SQLite-based run storage: world
// snapshots, the message log, arbitration outcomes, and fired events,
// keyed by run and tick.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/polis/internal/arbiter"
	"github.com/talgya/polis/internal/bus"
	"github.com/talgya/polis/internal/coord"
	"github.com/talgya/polis/internal/events"
	"github.com/talgya/polis/internal/roles"
	"github.com/talgya/polis/internal/worldstate"
)

// DB wraps a SQLite connection for run persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		ticks INTEGER NOT NULL,
		context_summary TEXT NOT NULL,
		report TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS run_roles (
		run_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		role_id TEXT NOT NULL,
		name TEXT NOT NULL,
		mandate TEXT NOT NULL,
		incentives TEXT NOT NULL,
		observables_json TEXT NOT NULL,
		PRIMARY KEY (run_id, role_id)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		run_id INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		sender TEXT NOT NULL,
		receivers_json TEXT NOT NULL,
		intent TEXT NOT NULL,
		content_json TEXT NOT NULL,
		valid_until_tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		role_id TEXT NOT NULL,
		action_name TEXT NOT NULL,
		coordinated INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		changes_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agreements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		initiator TEXT NOT NULL,
		partners_json TEXT NOT NULL,
		terms_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fired_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		name TEXT NOT NULL,
		probability REAL NOT NULL,
		draw REAL NOT NULL,
		changes_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_run_tick ON messages(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run_tick ON outcomes(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_fired_events_run_tick ON fired_events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun registers a new run and returns its id.
func (db *DB) CreateRun(seed int64, ticks int, contextSummary string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO runs (started_at, seed, ticks, context_summary) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(time.RFC3339), seed, ticks, contextSummary,
	)
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stores the closing analyst report for a run.
func (db *DB) FinishRun(runID int64, report string) error {
	_, err := db.conn.Exec("UPDATE runs SET report = ? WHERE id = ?", report, runID)
	return err
}

// SaveRoles writes the run's role roster in registration order.
func (db *DB) SaveRoles(runID int64, roster []*roles.Role) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, r := range roster {
		obsJSON, _ := json.Marshal(r.Observables)
		_, err := tx.Exec(`INSERT OR REPLACE INTO run_roles
			(run_id, position, role_id, name, mandate, incentives, observables_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, r.ID, r.Name, r.Mandate, r.Incentives, string(obsJSON),
		)
		if err != nil {
			return fmt.Errorf("insert role %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// SaveSnapshot stores the post-tick world state.
func (db *DB) SaveSnapshot(runID int64, snap worldstate.Snapshot) error {
	stateJSON, err := json.Marshal(snap.Sections)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO snapshots (run_id, tick, state_json) VALUES (?, ?, ?)",
		runID, snap.Tick, string(stateJSON),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot tick %d: %w", snap.Tick, err)
	}
	return nil
}

// LoadSnapshots returns a run's snapshots in tick order.
func (db *DB) LoadSnapshots(runID int64) ([]worldstate.Snapshot, error) {
	rows, err := db.conn.Queryx(
		"SELECT tick, state_json FROM snapshots WHERE run_id = ? ORDER BY tick",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []worldstate.Snapshot
	for rows.Next() {
		var tick int
		var stateJSON string
		if err := rows.Scan(&tick, &stateJSON); err != nil {
			return nil, err
		}
		var sections map[string]map[string]float64
		if err := json.Unmarshal([]byte(stateJSON), &sections); err != nil {
			return nil, fmt.Errorf("snapshot tick %d: %w", tick, err)
		}
		snaps = append(snaps, worldstate.Snapshot{Tick: tick, Sections: sections})
	}
	return snaps, rows.Err()
}

// SaveMessages appends a tick's accepted messages.
func (db *DB) SaveMessages(runID int64, tick int, msgs []*bus.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		receiversJSON, _ := json.Marshal(m.Receivers)
		contentJSON, _ := json.Marshal(m.Content)
		_, err := tx.Exec(`INSERT OR REPLACE INTO messages
			(id, run_id, tick, sender, receivers_json, intent, content_json, valid_until_tick)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, runID, tick, m.Sender, string(receiversJSON),
			string(m.Intent), string(contentJSON), m.ValidUntilTick,
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// SaveOutcomes appends a tick's arbitration outcomes.
func (db *DB) SaveOutcomes(runID int64, tick int, outcomes []arbiter.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, o := range outcomes {
		changesJSON, _ := json.Marshal(o.Changes)
		coordinated := 0
		if o.Action.Coordinated {
			coordinated = 1
		}
		_, err := tx.Exec(`INSERT INTO outcomes
			(run_id, tick, role_id, action_name, coordinated, status, reason, changes_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, tick, o.Action.Role, o.Action.Name, coordinated,
			string(o.Status), o.Reason, string(changesJSON),
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s/%s: %w", o.Action.Role, o.Action.Name, err)
		}
	}

	return tx.Commit()
}

// SaveAgreements appends a tick's extracted agreements.
func (db *DB) SaveAgreements(runID int64, tick int, agreements []coord.Agreement) error {
	if len(agreements) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range agreements {
		partnersJSON, _ := json.Marshal(a.Partners)
		termsJSON, _ := json.Marshal(a.Terms)
		_, err := tx.Exec(
			"INSERT INTO agreements (run_id, tick, initiator, partners_json, terms_json) VALUES (?, ?, ?, ?, ?)",
			runID, tick, a.Initiator, string(partnersJSON), string(termsJSON),
		)
		if err != nil {
			return fmt.Errorf("insert agreement by %s: %w", a.Initiator, err)
		}
	}

	return tx.Commit()
}

// SaveFiredEvents appends a tick's fired exogenous events.
func (db *DB) SaveFiredEvents(runID int64, tick int, fired []events.Fired) error {
	if len(fired) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range fired {
		changesJSON, _ := json.Marshal(f.Changes)
		_, err := tx.Exec(
			"INSERT INTO fired_events (run_id, tick, name, probability, draw, changes_json) VALUES (?, ?, ?, ?, ?, ?)",
			runID, tick, f.Name, f.Probability, f.Draw, string(changesJSON),
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", f.Name, err)
		}
	}

	return tx.Commit()
}

// Report returns the stored analyst report for a run.
func (db *DB) Report(runID int64) (string, error) {
	var report string
	err := db.conn.Get(&report, "SELECT report FROM runs WHERE id = ?", runID)
	return report, err
}

// SaveTick persists everything a finished tick produced.
func (db *DB) SaveTick(runID int64, snap worldstate.Snapshot, msgs []*bus.Message,
	agreements []coord.Agreement, outcomes []arbiter.Outcome, fired []events.Fired) error {

	if err := db.SaveSnapshot(runID, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := db.SaveMessages(runID, snap.Tick, msgs); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	if err := db.SaveAgreements(runID, snap.Tick, agreements); err != nil {
		return fmt.Errorf("save agreements: %w", err)
	}
	if err := db.SaveOutcomes(runID, snap.Tick, outcomes); err != nil {
		return fmt.Errorf("save outcomes: %w", err)
	}
	if err := db.SaveFiredEvents(runID, snap.Tick, fired); err != nil {
		return fmt.Errorf("save events: %w", err)
	}

	slog.Debug("tick persisted", "run", runID, "tick", snap.Tick)
	return nil
}
