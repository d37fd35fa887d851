// Package statestore keeps a SQLite ledger of what the fleet driver did:
// the last reconcile of every instance and a history of lifecycle actions.
// The status command reads it back.
package statestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/fleet"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconciles (
	instance TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	installed TEXT NOT NULL,
	dirty INTEGER NOT NULL,
	error_code TEXT NOT NULL,
	error TEXT NOT NULL,
	updated TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS restarts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance TEXT NOT NULL,
	action TEXT NOT NULL,
	result TEXT NOT NULL,
	error TEXT NOT NULL,
	at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS restarts_instance ON restarts (instance, id);
`

const upsertReconcile = `
INSERT INTO reconciles (instance, state, installed, dirty, error_code, error, updated)
VALUES (:instance, :state, :installed, :dirty, :error_code, :error, :updated)
ON CONFLICT (instance)
DO UPDATE SET state = excluded.state, installed = excluded.installed,
	dirty = excluded.dirty, error_code = excluded.error_code,
	error = excluded.error, updated = excluded.updated
`

// Reconcile is the last recorded reconcile of one instance.
type Reconcile struct {
	Instance  string    `db:"instance"`
	State     string    `db:"state"`
	Installed string    `db:"installed"`
	Dirty     bool      `db:"dirty"`
	ErrorCode string    `db:"error_code"`
	Error     string    `db:"error"`
	Updated   time.Time `db:"updated"`
}

// Failed reports whether the reconcile ended in an error.
func (r Reconcile) Failed() bool {
	return r.Error != ""
}

// Restart is one recorded lifecycle action.
type Restart struct {
	ID       int64     `db:"id"`
	Instance string    `db:"instance"`
	Action   string    `db:"action"`
	Result   string    `db:"result"`
	Error    string    `db:"error"`
	At       time.Time `db:"at"`
}

// Store is the ledger. It implements fleet.Recorder.
type Store struct {
	db *sqlx.DB
}

var _ fleet.Recorder = (*Store)(nil)

// Open connects to the database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStateStore, "opening %s", path)
	}
	// Reconcile workers record concurrently; SQLite wants a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrStateStore, "creating schema in %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordReconcile stores the outcome of one instance's reconcile,
// replacing the previous record.
func (s *Store) RecordReconcile(ctx context.Context, result types.ReconcileResult, err error, at time.Time) error {
	row := Reconcile{
		Instance:  result.Instance,
		State:     result.State,
		Installed: result.Installed,
		Dirty:     result.Dirty,
		Updated:   at.UTC(),
	}
	if err != nil {
		row.ErrorCode = string(errors.GetErrorCode(err))
		row.Error = err.Error()
	}
	if _, err := s.db.NamedExecContext(ctx, upsertReconcile, row); err != nil {
		return errors.Wrapf(err, errors.ErrStateStore, "recording reconcile of %s", result.Instance)
	}
	return nil
}

// RecordRestart appends a lifecycle action to the history.
func (s *Store) RecordRestart(ctx context.Context, o fleet.Outcome, at time.Time) error {
	row := Restart{
		Instance: o.Instance,
		Action:   o.Action,
		Result:   o.Result.String(),
		At:       at.UTC(),
	}
	if o.Err != nil {
		row.Error = o.Err.Error()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO restarts (instance, action, result, error, at) VALUES (:instance, :action, :result, :error, :at)`, row)
	if err != nil {
		return errors.Wrapf(err, errors.ErrStateStore, "recording %s of %s", o.Action, o.Instance)
	}
	return nil
}

// Last returns the latest reconcile of an instance. The bool is false when
// none was recorded.
func (s *Store) Last(ctx context.Context, instance string) (Reconcile, bool, error) {
	var r Reconcile
	err := s.db.GetContext(ctx, &r, `SELECT * FROM reconciles WHERE instance = ?`, instance)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return r, false, errors.Wrapf(err, errors.ErrStateStore, "reading reconcile of %s", instance)
	}
	return r, true, nil
}

// Reconciles returns the latest reconcile of every instance by name.
func (s *Store) Reconciles(ctx context.Context) ([]Reconcile, error) {
	var out []Reconcile
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM reconciles ORDER BY instance`); err != nil {
		return nil, errors.Wrap(err, errors.ErrStateStore, "listing reconciles")
	}
	return out, nil
}

// Restarts returns up to limit most recent actions on an instance, newest
// first.
func (s *Store) Restarts(ctx context.Context, instance string, limit int) ([]Restart, error) {
	var out []Restart
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM restarts WHERE instance = ? ORDER BY id DESC LIMIT ?`, instance, limit)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStateStore, "listing restarts of %s", instance)
	}
	return out, nil
}

// Forget removes every record of an instance, used once it is deleted.
func (s *Store) Forget(ctx context.Context, instance string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrStateStore, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM reconciles WHERE instance = ?`,
		`DELETE FROM restarts WHERE instance = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, instance); err != nil {
			return errors.Wrapf(err, errors.ErrStateStore, "forgetting %s", instance)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, errors.ErrStateStore, "forgetting %s", instance)
	}
	return nil
}
