// Package sqlitestore persists failed tasks in a single-file SQLite
// database so retries survive process restarts.
//
// Unlike the in-memory store, TakeReady leaves the row in place: the record
// of an in-flight retry must survive a crash, and the single retry worker
// always resolves a taken task (re-queue, stop or remove) before taking
// again, so the row never surfaces twice concurrently.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	redo "github.com/calleros/redo-go"
)

const tableName = "failed_task"

const schema = `
CREATE TABLE IF NOT EXISTS ` + tableName + ` (
    task_id       INTEGER PRIMARY KEY AUTOINCREMENT,
    task_type     INTEGER NOT NULL,
    task_name     TEXT NOT NULL,
    task_args     TEXT NOT NULL,
    task_kwargs   TEXT NOT NULL,
    runner_name   TEXT NOT NULL,
    retry_count   INTEGER NOT NULL,
    max_retry     INTEGER NOT NULL,
    create_time   REAL NOT NULL,
    update_time   REAL NOT NULL,
    next_run_time REAL NOT NULL,
    state         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failed_task_ready
    ON ` + tableName + `(state, next_run_time, task_id);
`

const taskColumns = `task_id, task_type, task_name, task_args, task_kwargs,
    runner_name, retry_count, max_retry, create_time, update_time,
    next_run_time, state`

// Store is a redo.Store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// between the caller goroutines and the retry worker.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(t *redo.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	defer tx.Rollback()

	args, kwargs, err := encodeArgs(t)
	if err != nil {
		return err
	}

	if t.ID == redo.UnassignedID {
		res, err := tx.Exec(`INSERT INTO `+tableName+
			` (task_type, task_name, task_args, task_kwargs, runner_name,
			   retry_count, max_retry, create_time, update_time, next_run_time, state)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int(t.Kind), t.Name, args, kwargs, t.RunnerName,
			t.RetryCount, t.MaxRetry, encodeTime(t.CreateTime), encodeTime(t.UpdateTime),
			encodeTime(t.NextRunTime), int(t.State))
		if err != nil {
			return fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		t.ID = id
		return commit(tx)
	}

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM `+tableName+` WHERE task_id = ?`, t.ID).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`INSERT INTO `+tableName+` (`+taskColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, int(t.Kind), t.Name, args, kwargs, t.RunnerName,
			t.RetryCount, t.MaxRetry, encodeTime(t.CreateTime), encodeTime(t.UpdateTime),
			encodeTime(t.NextRunTime), int(t.State))
	case err == nil:
		_, err = tx.Exec(`UPDATE `+tableName+` SET
			 task_type = ?, task_name = ?, task_args = ?, task_kwargs = ?,
			 runner_name = ?, retry_count = ?, max_retry = ?, update_time = ?,
			 next_run_time = ?, state = ?
			 WHERE task_id = ?`,
			int(t.Kind), t.Name, args, kwargs, t.RunnerName,
			t.RetryCount, t.MaxRetry, encodeTime(t.UpdateTime),
			encodeTime(t.NextRunTime), int(t.State), t.ID)
	}
	if err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return commit(tx)
}

func (s *Store) TakeReady() (*redo.Task, error) {
	now := encodeTime(time.Now())
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM `+tableName+`
		 WHERE state = ? AND next_run_time <= ?
		 ORDER BY next_run_time, task_id
		 LIMIT 1`,
		int(redo.StateFailed), now)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) PeekNext() (*redo.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM `+tableName+`
		 WHERE state = ?
		 ORDER BY next_run_time, task_id
		 LIMIT 1`,
		int(redo.StateFailed))
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *Store) Remove(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM `+tableName+` WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return nil
}

func (s *Store) All() ([]*redo.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM ` + tableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	defer rows.Close()

	var tasks []*redo.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return tasks, nil
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return nil
}

// argsEnvelope matches the persisted layout: the positional arguments ride
// inside a one-key object so an empty list and a missing value stay
// distinguishable in the text column.
type argsEnvelope struct {
	TaskArgs []any `json:"task_args"`
}

func encodeArgs(t *redo.Task) (string, string, error) {
	args, err := json.Marshal(argsEnvelope{TaskArgs: t.Args})
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	kwargs := t.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	kw, err := json.Marshal(kwargs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return string(args), string(kw), nil
}

// encodeTime stores instants as unix seconds; the zero time (the AnyTime
// sentinel) becomes -1, which also satisfies "any value at or before now".
func encodeTime(t time.Time) float64 {
	if t.IsZero() {
		return -1
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func decodeTime(f float64) time.Time {
	if f < 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(f*float64(time.Second)))
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*redo.Task, error) {
	var (
		t          redo.Task
		kind       int
		state      int
		args       string
		kwargs     string
		createTime float64
		updateTime float64
		nextRun    float64
	)
	err := row.Scan(&t.ID, &kind, &t.Name, &args, &kwargs, &t.RunnerName,
		&t.RetryCount, &t.MaxRetry, &createTime, &updateTime, &nextRun, &state)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}

	var envelope argsEnvelope
	if err := json.Unmarshal([]byte(args), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	if err := json.Unmarshal([]byte(kwargs), &t.Kwargs); err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}

	t.Kind = redo.KindFromInt(kind)
	t.State = redo.StateFromInt(state)
	t.Args = envelope.TaskArgs
	t.CreateTime = decodeTime(createTime)
	t.UpdateTime = decodeTime(updateTime)
	t.NextRunTime = decodeTime(nextRun)
	return &t, nil
}
