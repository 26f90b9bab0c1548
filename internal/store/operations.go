package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateOperation inserts op already in OpDone, since every mutating
// compute call in this emulator completes synchronously before
// returning (spec.md §4.8 notes this explicitly as a deliberate
// simplification over the real asynchronous API).
func (q *Queries) CreateOperation(ctx context.Context, op *Operation) error {
	op.ID = NewID()
	now := q.now()
	op.InsertTime, op.StartTime, op.EndTime = now, now, now
	op.Status = OpDone
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO operations (id, name, type, target_link, status, progress, insert_time, start_time, end_time, error)
		VALUES (?, ?, ?, ?, ?, 100, ?, ?, ?, ?)`,
		op.ID, op.Name, string(op.Type), op.TargetLink, string(op.Status), fmtTime(now), fmtTime(now), fmtTime(now), op.Error)
	return err
}

// GetOperation returns operation name, or NotFound.
func (q *Queries) GetOperation(ctx context.Context, name string) (*Operation, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, type, target_link, status, progress, insert_time, start_time, end_time, error
		FROM operations WHERE name = ?`, name)
	return scanOperation(row)
}

func scanOperation(row *sql.Row) (*Operation, error) {
	op := &Operation{}
	var insertTime string
	var startTime, endTime sql.NullString
	err := row.Scan(&op.ID, &op.Name, &op.Type, &op.TargetLink, &op.Status, &op.Progress, &insertTime, &startTime, &endTime, &op.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "operationNotFound", "operation not found")
		}
		return nil, err
	}
	op.InsertTime, _ = time.Parse(time.RFC3339Nano, insertTime)
	if startTime.Valid {
		op.StartTime, _ = time.Parse(time.RFC3339Nano, startTime.String)
	}
	if endTime.Valid {
		op.EndTime, _ = time.Parse(time.RFC3339Nano, endTime.String)
	}
	return op, nil
}
