// Package store keeps a journal of every plan request and its outcome in
// a local SQLite file.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one planning request.
type Entry struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Source    string        `json:"source"` // cli, web or scan
	Current   geometry.Pose `json:"current"`
	Dest      geometry.Pose `json:"dest"`
	Status    string        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Ordering  string        `json:"ordering,omitempty"`
	Rows      int           `json:"rows"`
	Executed  bool          `json:"executed"`
	ExecError string        `json:"exec_error,omitempty"`
}

// Journal is the plan journal. Safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer at a time; SQLite serializes anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores e and returns its id. A missing id or timestamp is filled.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cur, err := json.Marshal(e.Current)
	if err != nil {
		return "", err
	}
	dst, err := json.Marshal(e.Dest)
	if err != nil {
		return "", err
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO plans (id, created_ns, source, current_pose, dest_pose, status, reason, ordering, row_count, executed, exec_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.UnixNano(), e.Source, string(cur), string(dst),
		e.Status, e.Reason, e.Ordering, e.Rows, e.Executed, e.ExecError)
	if err != nil {
		return "", fmt.Errorf("insert plan %s: %w", e.ID, err)
	}
	return e.ID, nil
}

// MarkExecuted records the dispatch outcome of a plan.
func (j *Journal) MarkExecuted(ctx context.Context, id string, execErr error) error {
	msg := ""
	if execErr != nil {
		msg = execErr.Error()
	}
	res, err := j.db.ExecContext(ctx, `UPDATE plans SET executed = 1, exec_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("update plan %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s not found", id)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_ns, source, current_pose, dest_pose, status, reason, ordering, row_count, executed, exec_error
		FROM plans ORDER BY created_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ns       int64
			cur, dst string
		)
		if err := rows.Scan(&e.ID, &ns, &e.Source, &cur, &dst, &e.Status, &e.Reason, &e.Ordering,
			&e.Rows, &e.Executed, &e.ExecError); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		e.CreatedAt = time.Unix(0, ns)
		if err := json.Unmarshal([]byte(cur), &e.Current); err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(dst), &e.Dest); err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
