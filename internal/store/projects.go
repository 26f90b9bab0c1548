package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// EnsureProject returns the project named name, creating it lazily (with
// a fresh id and a synthetic project number) if it does not yet exist —
// spec.md §3 "created lazily or explicitly".
func (s *Store) EnsureProject(ctx context.Context, name string) (*Project, error) {
	var p *Project
	err := s.Tx(ctx, func(q *Queries) error {
		got, err := q.EnsureProject(ctx, name)
		p = got
		return err
	})
	return p, err
}

// EnsureProject is the Queries-scoped version, usable from inside a
// larger transaction (e.g. object/instance creation resolving their
// owning project).
func (q *Queries) EnsureProject(ctx context.Context, name string) (*Project, error) {
	existing, err := q.GetProjectByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if emuerr.KindOf(err) != emuerr.NotFound {
		return nil, err
	}
	p := &Project{
		ID:        NewID(),
		Name:      name,
		Number:    syntheticProjectNumber(name),
		CreatedAt: q.now(),
	}
	_, err = q.tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, number, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Number, p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProjectByName returns the project named name, or NotFound.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	var p *Project
	err := s.Tx(ctx, func(q *Queries) error {
		got, err := q.GetProjectByName(ctx, name)
		p = got
		return err
	})
	return p, err
}

// GetProjectByName is the Queries-scoped version.
func (q *Queries) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT id, name, number, created_at FROM projects WHERE name = ?`, name)
	p := &Project{}
	var created string
	if err := row.Scan(&p.ID, &p.Name, &p.Number, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "projectNotFound", "project %q not found", name)
		}
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return p, nil
}

// syntheticProjectNumber derives a stable-looking numeric project number
// from the name, the way the real platform assigns an opaque number at
// creation; there is no external authority to allocate from here.
func syntheticProjectNumber(name string) int64 {
	var h int64 = -3750763034362895579 // FNV-1a offset basis 14695981039346656037 as two's-complement int64
	for _, b := range []byte(name) {
		h ^= int64(b)
		h *= 1099511628211
		if h < 0 {
			h = -h
		}
	}
	return 100000000000 + (h % 900000000000)
}
