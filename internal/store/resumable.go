package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateResumableSession inserts a fresh resumable upload session.
func (q *Queries) CreateResumableSession(ctx context.Context, rs *ResumableSession) error {
	rs.ID = NewID()
	rs.CreatedAt = q.now()
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO resumable_sessions (id, bucket_id, object_name, content_type, temp_path, total_size, bytes_received, created_at, if_generation_match, if_metageneration_match)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		rs.ID, rs.BucketID, rs.ObjectName, rs.ContentType, rs.TempPath, rs.TotalSize, fmtTime(rs.CreatedAt),
		rs.IfGenerationMatch, rs.IfMetagenerationMatch)
	return err
}

// GetResumableSession returns the session id, or NotFound.
func (q *Queries) GetResumableSession(ctx context.Context, id string) (*ResumableSession, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, bucket_id, object_name, content_type, temp_path, total_size, bytes_received, created_at, if_generation_match, if_metageneration_match
		FROM resumable_sessions WHERE id = ?`, id)
	return scanResumableSession(row)
}

func scanResumableSession(row *sql.Row) (*ResumableSession, error) {
	rs := &ResumableSession{}
	var created string
	var totalSize, ifGen, ifMeta sql.NullInt64
	err := row.Scan(&rs.ID, &rs.BucketID, &rs.ObjectName, &rs.ContentType, &rs.TempPath, &totalSize, &rs.BytesReceived,
		&created, &ifGen, &ifMeta)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "resumableSessionNotFound", "upload session not found")
		}
		return nil, err
	}
	rs.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if totalSize.Valid {
		v := totalSize.Int64
		rs.TotalSize = &v
	}
	if ifGen.Valid {
		v := ifGen.Int64
		rs.IfGenerationMatch = &v
	}
	if ifMeta.Valid {
		v := ifMeta.Int64
		rs.IfMetagenerationMatch = &v
	}
	return rs, nil
}

// AdvanceResumableSession records that n further bytes have been received.
func (q *Queries) AdvanceResumableSession(ctx context.Context, id string, n int64) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE resumable_sessions SET bytes_received = bytes_received + ? WHERE id = ?`, n, id)
	return err
}

// DeleteResumableSession removes the session row, on finalize or abort.
func (q *Queries) DeleteResumableSession(ctx context.Context, id string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM resumable_sessions WHERE id = ?`, id)
	return err
}

// ListExpiredResumableSessions returns every session created before
// olderThan, for the periodic sweep that reclaims abandoned uploads'
// temp files.
func (q *Queries) ListExpiredResumableSessions(ctx context.Context, olderThan time.Time) ([]*ResumableSession, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, bucket_id, object_name, content_type, temp_path, total_size, bytes_received, created_at, if_generation_match, if_metageneration_match
		FROM resumable_sessions WHERE created_at < ?`, fmtTime(olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ResumableSession
	for rows.Next() {
		rs := &ResumableSession{}
		var created string
		var totalSize, ifGen, ifMeta sql.NullInt64
		if err := rows.Scan(&rs.ID, &rs.BucketID, &rs.ObjectName, &rs.ContentType, &rs.TempPath, &totalSize, &rs.BytesReceived,
			&created, &ifGen, &ifMeta); err != nil {
			return nil, err
		}
		rs.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if totalSize.Valid {
			v := totalSize.Int64
			rs.TotalSize = &v
		}
		if ifGen.Valid {
			v := ifGen.Int64
			rs.IfGenerationMatch = &v
		}
		if ifMeta.Valid {
			v := ifMeta.Int64
			rs.IfMetagenerationMatch = &v
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
