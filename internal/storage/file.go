package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"taskbell/internal/task"
	logx "taskbell/pkg/logx"
)

// fileStore keeps every task in one JSON document.
//
// Each call re-reads the document so edits made by another process (the CLI
// while the daemon runs) are always visible. Writes go to <path>.tmp and are
// renamed over the document.
type fileStore struct {
	log  logx.Logger
	path string
	now  func() time.Time

	mu     sync.Mutex
	closed bool
}

type fileDoc struct {
	Version int         `json:"version"`
	NextID  int64       `json:"next_id"`
	Tasks   []task.Task `json:"tasks"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: path, now: time.Now}

	// Fail early on a corrupt document instead of on the first command.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Path() string { return s.path }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) load() (fileDoc, error) {
	doc := fileDoc{Version: 1, NextID: 1}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", s.path, err)
	}
	// Tolerate hand-edited documents with a stale counter.
	for _, t := range doc.Tasks {
		if t.ID >= doc.NextID {
			doc.NextID = t.ID + 1
		}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, nil
}

func (s *fileStore) save(doc fileDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// update runs fn on the loaded document under the store lock and saves it.
func (s *fileStore) update(ctx context.Context, fn func(doc *fileDoc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *fileStore) read(ctx context.Context) (fileDoc, error) {
	if err := ctx.Err(); err != nil {
		return fileDoc{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fileDoc{}, ErrClosed
	}
	return s.load()
}

func (s *fileStore) List(ctx context.Context, f task.Filter) ([]task.Task, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]task.Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *fileStore) Get(ctx context.Context, id int64) (task.Task, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return task.Task{}, err
	}
	for _, t := range doc.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return task.Task{}, fmt.Errorf("%w: %d", ErrNotFound, id)
}

func (s *fileStore) Create(ctx context.Context, t task.Task) (task.Task, error) {
	err := s.update(ctx, func(doc *fileDoc) error {
		ts := s.now()
		t.ID = doc.NextID
		t.CreatedAt = ts
		t.UpdatedAt = ts
		doc.NextID++
		doc.Tasks = append(doc.Tasks, t)
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	s.log.Debug("task created", logx.Int64("id", t.ID), logx.String("name", t.Name))
	return t, nil
}

func (s *fileStore) Update(ctx context.Context, t task.Task) error {
	return s.update(ctx, func(doc *fileDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID != t.ID {
				continue
			}
			t.CreatedAt = doc.Tasks[i].CreatedAt
			t.UpdatedAt = s.now()
			doc.Tasks[i] = t
			return nil
		}
		return fmt.Errorf("%w: %d", ErrNotFound, t.ID)
	})
}

func (s *fileStore) Delete(ctx context.Context, id int64) error {
	return s.update(ctx, func(doc *fileDoc) error {
		for i := range doc.Tasks {
			if doc.Tasks[i].ID == id {
				doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	})
}

// sortTasks orders by last update, newest first, then by id descending.
func sortTasks(ts []task.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].UpdatedAt.Equal(ts[j].UpdatedAt) {
			return ts[i].UpdatedAt.After(ts[j].UpdatedAt)
		}
		return ts[i].ID > ts[j].ID
	})
}
