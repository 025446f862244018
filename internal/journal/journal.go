// Package journal keeps a local sqlite history of flag transitions and exit
// actions, so an operator can see when and why the reporter withdrew stake
// after the flags file has been overwritten.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"

	"github.com/defi-org-code/ton-validator-reporter/internal/alert"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const busyTimeout = 5 * time.Second

const createTransitionTable = `
CREATE TABLE IF NOT EXISTS flag_transition (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at_unix INTEGER NOT NULL,
  kind TEXT NOT NULL,
  reason TEXT NOT NULL,
  is_set INTEGER NOT NULL,
  message TEXT NOT NULL
);`

const createActionTable = `
CREATE TABLE IF NOT EXISTS exit_action (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  at_unix INTEGER NOT NULL,
  reasons_json TEXT NOT NULL,
  verified INTEGER NOT NULL,
  stake REAL NOT NULL,
  stake_percent REAL NOT NULL,
  last_error TEXT
);`

// Store is the journal database.
type Store struct {
	db *sqlx.DB
}

// TransitionRecord is one stored flag change.
type TransitionRecord struct {
	ID      int64  `db:"id"`
	AtUnix  int64  `db:"at_unix"`
	Kind    string `db:"kind"`
	Reason  string `db:"reason"`
	Set     bool   `db:"is_set"`
	Message string `db:"message"`
}

// ActionRecord is one stored exit enforcement.
type ActionRecord struct {
	ID           int64
	AtUnix       int64
	Reasons      []string
	Verified     bool
	Stake        float64
	StakePercent float64
	LastError    string
}

// Open opens or creates the journal at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open journal sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", int64(busyTimeout/time.Millisecond)),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cannot set sqlite database parameter: %w", err)
		}
	}

	for name, stmt := range map[string]string{"flag_transition": createTransitionTable, "exit_action": createActionTable} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cannot create %s table: %w", name, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTransitions stores every change in one transaction.
func (s *Store) RecordTransitions(at int64, transitions []alert.Transition, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if len(transitions) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	for _, t := range transitions {
		if _, err := tx.Exec(
			`INSERT INTO flag_transition (at_unix, kind, reason, is_set, message) VALUES (?, ?, ?, ?, ?)`,
			at, t.Kind, t.Reason, t.Set, message,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert flag_transition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// RecordAction stores an exit enforcement outcome.
func (s *Store) RecordAction(at int64, act *alert.Action) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if act == nil {
		return nil
	}

	reasons, err := json.Marshal(act.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	var lastError any
	if act.Err != nil {
		lastError = act.Err.Error()
	}

	_, err = s.db.Exec(
		`INSERT INTO exit_action (at_unix, reasons_json, verified, stake, stake_percent, last_error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		at, string(reasons), act.Verified, act.Declared.Stake, act.Declared.StakePercent, lastError,
	)
	if err != nil {
		return fmt.Errorf("insert exit_action: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (s *Store) RecentTransitions(limit int) ([]TransitionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	var out []TransitionRecord
	err := s.db.Select(&out,
		`SELECT id, at_unix, kind, reason, is_set, message FROM flag_transition ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query flag_transition: %w", err)
	}
	return out, nil
}

// RecentActions returns up to limit exit actions, newest first.
func (s *Store) RecentActions(limit int) ([]ActionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	var rows []struct {
		ID           int64          `db:"id"`
		AtUnix       int64          `db:"at_unix"`
		ReasonsJSON  string         `db:"reasons_json"`
		Verified     bool           `db:"verified"`
		Stake        float64        `db:"stake"`
		StakePercent float64        `db:"stake_percent"`
		LastError    sql.NullString `db:"last_error"`
	}
	err := s.db.Select(&rows,
		`SELECT id, at_unix, reasons_json, verified, stake, stake_percent, last_error FROM exit_action ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exit_action: %w", err)
	}

	out := make([]ActionRecord, 0, len(rows))
	for _, r := range rows {
		rec := ActionRecord{
			ID:           r.ID,
			AtUnix:       r.AtUnix,
			Verified:     r.Verified,
			Stake:        r.Stake,
			StakePercent: r.StakePercent,
			LastError:    r.LastError.String,
		}
		if err := json.Unmarshal([]byte(r.ReasonsJSON), &rec.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons of action %d: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
