package store

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the database handle and is safe for concurrent use; each
// exported method (and every repository built from it) opens its own
// transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and
// applies the embedded schema. dsn is a filesystem path, or ":memory:"
// for tests.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, errors.Wrap(err, "cannot open metadata store")
	}
	// SQLite allows only one writer at a time; a single physical
	// connection avoids "database is locked" surprises from the
	// connection pool racing itself, while BEGIN IMMEDIATE (see Tx)
	// still gives every service operation a serializable transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cannot enable foreign keys")
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "cannot apply schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Queries wraps a single transaction with typed methods for every entity.
// Services that need to span more than one entity inside one atomic unit
// of work (e.g. the object upload pipeline's commit step, which touches
// both objects and object_versions) call Store.Tx and use the *Queries
// it hands them; single-entity callers use the Store.<Entity> wrapper
// methods defined alongside each repository file, which open their own
// transaction.
type Queries struct {
	tx  *sql.Tx
	now func() time.Time
}

func nowUTC() time.Time { return time.Now().UTC() }

// Tx is the unit of work every repository method runs inside. The DSN's
// _txlock=immediate makes every BeginTx acquire SQLite's write lock up
// front (BEGIN IMMEDIATE), giving the serializable isolation the
// cross-row invariants (bucket uniqueness, subnet overlap, IP
// allocation, policy etag CAS) depend on: the loser of a race blocks at
// BeginTx rather than racing to commit.
func (s *Store) Tx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "cannot begin transaction")
	}
	q := &Queries{tx: tx, now: nowUTC}
	if err := fn(q); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "cannot commit transaction")
	}
	return nil
}
