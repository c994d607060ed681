package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded save.
type Entry struct {
	ID        int64
	RunID     string
	Tag       string
	Epoch     int
	Step      int
	Loss      float64
	Path      string
	CreatedAt time.Time
}

// Catalog is the save history of a store, kept in sqlite so that runs that
// overwrite the same tags stay distinguishable.
type Catalog struct {
	db *sql.DB
}

func OpenCatalog(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			step INTEGER NOT NULL,
			loss REAL,
			path TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: init catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) Record(ctx context.Context, meta Meta, path string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO checkpoints(run_id, tag, epoch, step, loss, path, created_at) VALUES(?,?,?,?,?,?,?)`,
		meta.RunID, meta.Tag, meta.Epoch, meta.Step, meta.Loss, path, meta.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("checkpoint: record %s: %w", meta.Tag, err)
	}
	return nil
}

// Latest returns the most recent save of runID, or of any run when runID is
// empty.
func (c *Catalog) Latest(ctx context.Context, runID string) (Entry, error) {
	q := `SELECT id, run_id, tag, epoch, step, loss, path, created_at FROM checkpoints`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY id DESC LIMIT 1`
	e, err := scanEntry(c.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns up to limit saves, newest first. limit <= 0 returns all.
func (c *Catalog) List(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT id, run_id, tag, epoch, step, loss, path, created_at FROM checkpoints ORDER BY id DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list catalog: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e       Entry
		loss    sql.NullFloat64
		created string
	)
	if err := s.Scan(&e.ID, &e.RunID, &e.Tag, &e.Epoch, &e.Step, &loss, &e.Path, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("checkpoint: scan catalog: %w", err)
	}
	e.Loss = loss.Float64
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Entry{}, fmt.Errorf("checkpoint: catalog time %q: %w", created, err)
	}
	e.CreatedAt = t
	return e, nil
}
