package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskbell/internal/task"
	logx "taskbell/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Times are stored as unix nanoseconds so ORDER BY on updated_at is exact.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
	now  func() time.Time
}

const taskColumns = `t.task_id, t.name, t.description, t.start_at, t.end_at, s.status_name, t.created_at, t.updated_at`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, path: path, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Path() string { return s.path }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t      task.Task
		status string
		ns     [4]int64
	)
	if err := r.Scan(&t.ID, &t.Name, &t.Description, &ns[0], &ns[1], &status, &ns[2], &ns[3]); err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	t.StartAt = time.Unix(0, ns[0])
	t.EndAt = time.Unix(0, ns[1])
	t.CreatedAt = time.Unix(0, ns[2])
	t.UpdatedAt = time.Unix(0, ns[3])
	return t, nil
}

func (s *sqliteStore) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks t JOIN task_status s ON t.status_id = s.status_id`
	var args []any
	if !f.All() {
		q += ` WHERE s.status_name = ? COLLATE NOCASE`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY t.updated_at DESC, t.task_id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks t JOIN task_status s ON t.status_id = s.status_id WHERE t.task_id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return t, err
}

func (s *sqliteStore) Create(ctx context.Context, t task.Task) (task.Task, error) {
	ts := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(name, description, start_at, end_at, status_id, created_at, updated_at)
		 VALUES(?, ?, ?, ?, (SELECT status_id FROM task_status WHERE status_name = ?), ?, ?)`,
		t.Name, t.Description, t.StartAt.UnixNano(), t.EndAt.UnixNano(), string(t.Status), ts.UnixNano(), ts.UnixNano(),
	)
	if err != nil {
		return task.Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return task.Task{}, err
	}
	t.ID = id
	t.CreatedAt = ts
	t.UpdatedAt = ts
	s.log.Debug("task created", logx.Int64("id", id), logx.String("name", t.Name))
	return t, nil
}

func (s *sqliteStore) Update(ctx context.Context, t task.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name = ?, description = ?, start_at = ?, end_at = ?,
		 status_id = (SELECT status_id FROM task_status WHERE status_name = ?), updated_at = ?
		 WHERE task_id = ?`,
		t.Name, t.Description, t.StartAt.UnixNano(), t.EndAt.UnixNano(), string(t.Status), s.now().UnixNano(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return affectedOne(res, t.ID)
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return affectedOne(res, id)
}

func affectedOne(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
