// Package sqlite implements task.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/task"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store provides SQLite-backed persistence for tasks and thoughts.
type Store struct {
	db *sql.DB
}

var _ task.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, description, channel, status, round_count, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, t.Channel, string(t.Status), t.RoundCount, t.Reason,
		t.CreatedAt.UTC().Format(timeLayout), t.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create task: insert: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description, channel, status, round_count, reason, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns the most recently created tasks first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, channel, status, round_count, reason, created_at, updated_at
		 FROM tasks ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: query: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AppendThought(ctx context.Context, th *task.Thought) error {
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("append thought: marshal: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO thoughts (id, task_id, seq, round, status, data, created_at, updated_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM thoughts WHERE task_id = ?), ?, ?, ?, ?, ?)`,
		th.ID, th.TaskID, th.TaskID, th.Round, string(th.Status), string(data), now, now)
	if err != nil {
		return fmt.Errorf("append thought: insert: %w", err)
	}
	return nil
}

func (s *Store) UpdateThought(ctx context.Context, th *task.Thought) error {
	th.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("update thought: marshal: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE thoughts SET round = ?, status = ?, data = ?, updated_at = ? WHERE id = ?`,
		th.Round, string(th.Status), string(data), th.UpdatedAt.Format(timeLayout), th.ID)
	if err != nil {
		return fmt.Errorf("update thought: %w", err)
	}
	return expectOne(res, fmt.Sprintf("thought %s", th.ID))
}

func (s *Store) Thoughts(ctx context.Context, taskID string) ([]*task.Thought, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM thoughts WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list thoughts: query: %w", err)
	}
	defer rows.Close()

	var out []*task.Thought
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list thoughts: scan: %w", err)
		}
		var th task.Thought
		if err := json.Unmarshal([]byte(data), &th); err != nil {
			return nil, fmt.Errorf("list thoughts: decode: %w", err)
		}
		out = append(out, &th)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRoundCount(ctx context.Context, taskID string, rounds int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET round_count = ?, updated_at = ? WHERE id = ?`,
		rounds, time.Now().UTC().Format(timeLayout), taskID)
	if err != nil {
		return fmt.Errorf("update round count: %w", err)
	}
	return expectOne(res, fmt.Sprintf("task %s", taskID))
}

// MarkStatus updates the status only while the current one is not terminal.
func (s *Store) MarkStatus(ctx context.Context, taskID string, status task.Status, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, reason = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?, ?)`,
		string(status), reason, time.Now().UTC().Format(timeLayout), taskID,
		string(task.StatusDeferred), string(task.StatusComplete), string(task.StatusFailed), string(task.StatusRejected))
	if err != nil {
		return fmt.Errorf("mark status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark status: rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s: %w", taskID, t.Status, task.ErrTerminalStatus)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*task.Task, error) {
	var (
		t                task.Task
		status           string
		created, updated string
	)
	if err := sc.Scan(&t.ID, &t.Description, &t.Channel, &status, &t.RoundCount, &t.Reason, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	var err error
	if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &t, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, task.ErrNotFound)
	}
	return nil
}
