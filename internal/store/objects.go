package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// GetOrCreateObjectRow returns the Object row for (bucketID, name),
// creating an empty placeholder row (current_generation=0,
// last_generation=0, deleted=true) if none exists yet. The row, once
// created, is never physically removed: its id is the stable anchor for
// the name's generation counter across soft-deletes and re-uploads
// (spec.md §3: generation is monotonically increasing per object name
// within a bucket).
func (q *Queries) GetOrCreateObjectRow(ctx context.Context, bucketID, name string) (*Object, error) {
	o, err := q.getObjectRow(ctx, bucketID, name)
	if err == nil {
		return o, nil
	}
	if emuerr.KindOf(err) != emuerr.NotFound {
		return nil, err
	}
	now := q.now()
	o = &Object{
		ID:        NewID(),
		BucketID:  bucketID,
		Name:      name,
		Deleted:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO objects (id, bucket_id, name, current_generation, deleted, created_at, updated_at, last_generation)
		VALUES (?, ?, ?, 0, 1, ?, ?, 0)`,
		o.ID, o.BucketID, o.Name, fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, err
	}
	return o, nil
}

// GetObjectRow returns the Object row for (bucketID, name). If the row is
// marked deleted (no live current version), it is still returned: the
// generation counter lives on it; the objects service is responsible for
// treating Deleted rows as "not found" from a client's point of view.
func (q *Queries) GetObjectRow(ctx context.Context, bucketID, name string) (*Object, error) {
	return q.getObjectRow(ctx, bucketID, name)
}

func (q *Queries) getObjectRow(ctx context.Context, bucketID, name string) (*Object, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, bucket_id, name, current_generation, content_type, size, md5, crc32c, storage_path, created_at, updated_at, deleted, last_generation
		FROM objects WHERE bucket_id = ? AND name = ?`, bucketID, name)
	return scanObject(row)
}

// GetObjectByID returns the Object row by its id.
func (q *Queries) GetObjectByID(ctx context.Context, id string) (*Object, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, bucket_id, name, current_generation, content_type, size, md5, crc32c, storage_path, created_at, updated_at, deleted, last_generation
		FROM objects WHERE id = ?`, id)
	return scanObject(row)
}

func scanObject(row *sql.Row) (*Object, error) {
	o := &Object{}
	var deleted int
	var created, updated string
	var lastGen int64
	err := row.Scan(&o.ID, &o.BucketID, &o.Name, &o.CurrentGeneration, &o.ContentType, &o.Size, &o.MD5, &o.CRC32C,
		&o.StoragePath, &created, &updated, &deleted, &lastGen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "objectNotFound", "object not found")
		}
		return nil, err
	}
	o.Deleted = deleted != 0
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return o, nil
}

// NextGeneration reserves and returns the next generation number for an
// Object row, without creating a version. Callers insert the
// object_versions row with this value inside the same transaction; the
// UNIQUE(object_id, generation) constraint is the backstop if two
// transactions ever raced past this point.
func (q *Queries) NextGeneration(ctx context.Context, objectID string) (int64, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT last_generation FROM objects WHERE id = ?`, objectID)
	var last int64
	if err := row.Scan(&last); err != nil {
		return 0, err
	}
	next := last + 1
	_, err := q.tx.ExecContext(ctx, `UPDATE objects SET last_generation = ? WHERE id = ?`, next, objectID)
	return next, err
}

// CommitVersion inserts the new current version, updates the Object row
// to point at it, and — when versioning is off — returns the storage
// path of the version it superseded (the caller deletes that payload
// only after this transaction commits, per the commit-then-cleanup
// ordering in spec.md §4.6).
func (q *Queries) CommitVersion(ctx context.Context, obj *Object, v *ObjectVersion, versioningEnabled bool) (supersededPath string, err error) {
	now := q.now()
	v.ID = NewID()
	v.ObjectID = obj.ID
	v.CreatedAt = now
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO object_versions (id, object_id, generation, storage_path, size, md5, crc32c, content_type, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		v.ID, v.ObjectID, v.Generation, v.StoragePath, v.Size, v.MD5, v.CRC32C, v.ContentType, fmtTime(now))
	if err != nil {
		return "", err
	}

	if !versioningEnabled && obj.CurrentGeneration != 0 {
		prev, err := q.getVersionByGeneration(ctx, obj.ID, obj.CurrentGeneration)
		if err != nil && emuerr.KindOf(err) != emuerr.NotFound {
			return "", err
		}
		if prev != nil {
			if _, err := q.tx.ExecContext(ctx, `UPDATE object_versions SET deleted_at = ? WHERE id = ?`, fmtTime(now), prev.ID); err != nil {
				return "", err
			}
			supersededPath = prev.StoragePath
		}
	}

	_, err = q.tx.ExecContext(ctx, `
		UPDATE objects SET current_generation = ?, content_type = ?, size = ?, md5 = ?, crc32c = ?, storage_path = ?, deleted = 0, updated_at = ?
		WHERE id = ?`,
		v.Generation, v.ContentType, v.Size, v.MD5, v.CRC32C, v.StoragePath, fmtTime(now), obj.ID)
	return supersededPath, err
}

func (q *Queries) getVersionByGeneration(ctx context.Context, objectID string, generation int64) (*ObjectVersion, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, object_id, generation, storage_path, size, md5, crc32c, content_type, created_at, deleted_at
		FROM object_versions WHERE object_id = ? AND generation = ?`, objectID, generation)
	return scanVersion(row)
}

func scanVersion(row *sql.Row) (*ObjectVersion, error) {
	v := &ObjectVersion{}
	var created string
	var deletedAt sql.NullString
	err := row.Scan(&v.ID, &v.ObjectID, &v.Generation, &v.StoragePath, &v.Size, &v.MD5, &v.CRC32C, &v.ContentType, &created, &deletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "versionNotFound", "object version not found")
		}
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		v.DeletedAt = &t
	}
	return v, nil
}

// GetVersion returns a specific generation of objectID, including
// soft-deleted ones (callers decide visibility).
func (q *Queries) GetVersion(ctx context.Context, objectID string, generation int64) (*ObjectVersion, error) {
	return q.getVersionByGeneration(ctx, objectID, generation)
}

// ListVersions returns every non-deleted historical version of objectID,
// newest generation first.
func (q *Queries) ListVersions(ctx context.Context, objectID string) ([]*ObjectVersion, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, object_id, generation, storage_path, size, md5, crc32c, content_type, created_at, deleted_at
		FROM object_versions WHERE object_id = ? AND deleted_at IS NULL ORDER BY generation DESC`, objectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ObjectVersion
	for rows.Next() {
		v := &ObjectVersion{}
		var created string
		var deletedAt sql.NullString
		if err := rows.Scan(&v.ID, &v.ObjectID, &v.Generation, &v.StoragePath, &v.Size, &v.MD5, &v.CRC32C, &v.ContentType, &created, &deletedAt); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountNewerVersions returns the number of non-deleted versions of
// objectID strictly newer than generation — used by the lifecycle
// worker's num_newer_versions condition.
func (q *Queries) CountNewerVersions(ctx context.Context, objectID string, generation int64) (int, error) {
	var n int
	err := q.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM object_versions WHERE object_id = ? AND generation > ? AND deleted_at IS NULL`,
		objectID, generation).Scan(&n)
	return n, err
}

// SoftDeleteCurrent clears obj's current_generation and marks its
// current version's deleted_at (versioning-on soft delete).
func (q *Queries) SoftDeleteCurrent(ctx context.Context, obj *Object) error {
	now := q.now()
	if _, err := q.tx.ExecContext(ctx, `UPDATE object_versions SET deleted_at = ? WHERE object_id = ? AND generation = ?`,
		fmtTime(now), obj.ID, obj.CurrentGeneration); err != nil {
		return err
	}
	_, err := q.tx.ExecContext(ctx, `UPDATE objects SET current_generation = 0, deleted = 1, updated_at = ? WHERE id = ?`,
		fmtTime(now), obj.ID)
	return err
}

// HardDeleteAllVersions marks every live version of objectID deleted_at
// and clears the Object row's current pointer, returning the storage
// paths of the versions removed so the caller can delete their payloads
// after commit.
func (q *Queries) HardDeleteAllVersions(ctx context.Context, objectID string) ([]string, error) {
	versions, err := q.ListVersions(ctx, objectID)
	if err != nil {
		return nil, err
	}
	now := q.now()
	paths := make([]string, 0, len(versions))
	for _, v := range versions {
		if _, err := q.tx.ExecContext(ctx, `UPDATE object_versions SET deleted_at = ? WHERE id = ?`, fmtTime(now), v.ID); err != nil {
			return nil, err
		}
		paths = append(paths, v.StoragePath)
	}
	_, err = q.tx.ExecContext(ctx, `UPDATE objects SET current_generation = 0, deleted = 1, updated_at = ? WHERE id = ?`, fmtTime(now), objectID)
	return paths, err
}

// DeleteSpecificVersion marks one generation of objectID deleted_at,
// returning its storage path. If the deleted generation was the current
// one, the Object row's pointer is cleared.
func (q *Queries) DeleteSpecificVersion(ctx context.Context, obj *Object, generation int64) (path string, err error) {
	v, err := q.getVersionByGeneration(ctx, obj.ID, generation)
	if err != nil {
		return "", err
	}
	now := q.now()
	if _, err := q.tx.ExecContext(ctx, `UPDATE object_versions SET deleted_at = ? WHERE id = ?`, fmtTime(now), v.ID); err != nil {
		return "", err
	}
	if obj.CurrentGeneration == generation {
		if _, err := q.tx.ExecContext(ctx, `UPDATE objects SET current_generation = 0, deleted = 1, updated_at = ? WHERE id = ?`,
			fmtTime(now), obj.ID); err != nil {
			return "", err
		}
	}
	return v.StoragePath, nil
}

// ListObjectsPage lists objects (or, if versions is true, every
// non-deleted version row) of bucketID, ordered by (name, generation
// desc), filtered by prefix, starting strictly after (afterName,
// afterGeneration) for pagination.
func (q *Queries) ListObjectsPage(ctx context.Context, bucketID, prefix, afterName string, afterGeneration int64, versions bool, limit int) ([]ObjectListRow, error) {
	like := prefix + "%"
	var rows *sql.Rows
	var err error
	if versions {
		rows, err = q.tx.QueryContext(ctx, `
			SELECT o.name, v.generation, o.id, v.size, v.content_type, v.md5, v.crc32c, o.current_generation
			FROM object_versions v JOIN objects o ON o.id = v.object_id
			WHERE o.bucket_id = ? AND o.name LIKE ? AND v.deleted_at IS NULL
			  AND (o.name > ? OR (o.name = ? AND v.generation < ?))
			ORDER BY o.name ASC, v.generation DESC
			LIMIT ?`, bucketID, like, afterName, afterName, orDefault(afterGeneration, 1<<62), limit)
	} else {
		rows, err = q.tx.QueryContext(ctx, `
			SELECT o.name, o.current_generation, o.id, o.size, o.content_type, o.md5, o.crc32c, o.current_generation
			FROM objects o
			WHERE o.bucket_id = ? AND o.name LIKE ? AND o.deleted = 0
			  AND o.name > ?
			ORDER BY o.name ASC
			LIMIT ?`, bucketID, like, afterName, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ObjectListRow
	for rows.Next() {
		var r ObjectListRow
		if err := rows.Scan(&r.Name, &r.Generation, &r.ObjectID, &r.Size, &r.ContentType, &r.MD5, &r.CRC32C, &r.CurrentGeneration); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ObjectListRow is one row of a ListObjectsPage result.
type ObjectListRow struct {
	Name              string
	Generation        int64
	ObjectID          string
	Size              int64
	ContentType       string
	MD5               string
	CRC32C            string
	CurrentGeneration int64
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
