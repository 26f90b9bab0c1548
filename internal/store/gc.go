package store

import "context"

// ListLiveStoragePaths returns the storage path of every non-deleted
// object_versions row across every bucket, plus the temp_path of every
// in-progress resumable session — the live set a blob garbage collection
// sweep must never remove.
func (q *Queries) ListLiveStoragePaths(ctx context.Context) ([]string, error) {
	var out []string

	rows, err := q.tx.QueryContext(ctx, `SELECT storage_path FROM object_versions WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows2, err := q.tx.QueryContext(ctx, `SELECT temp_path FROM resumable_sessions`)
	if err != nil {
		return nil, err
	}
	defer rows2.Close()
	for rows2.Next() {
		var p string
		if err := rows2.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows2.Err()
}
