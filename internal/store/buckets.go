package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateBucket inserts b. Callers must have already validated the name
// and checked global uniqueness is intended to be enforced by the
// database's UNIQUE constraint: a racing concurrent create surfaces as
// emuerr.AlreadyExists via emuerr.ClassifySQLite.
func (q *Queries) CreateBucket(ctx context.Context, b *Bucket) error {
	now := q.now()
	b.CreatedAt, b.UpdatedAt = now, now
	b.Metageneration = 1
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO buckets (id, name, project_id, location, storage_class, versioning_enabled, created_at, updated_at, metageneration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.ProjectID, b.Location, b.StorageClass, boolToInt(b.VersioningEnabled),
		fmtTime(now), fmtTime(now), b.Metageneration)
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "bucketCreateFailed", "cannot create bucket "+b.Name)
	}
	return q.ReplaceLifecycleRules(ctx, b.ID, b.LifecycleRules)
}

// GetBucketByName returns the bucket named name, with its lifecycle
// rules populated, or NotFound.
func (q *Queries) GetBucketByName(ctx context.Context, name string) (*Bucket, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, location, storage_class, versioning_enabled, created_at, updated_at, metageneration
		FROM buckets WHERE name = ?`, name)
	b, err := scanBucket(row)
	if err != nil {
		return nil, err
	}
	rules, err := q.ListLifecycleRules(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.LifecycleRules = rules
	return b, nil
}

// GetBucketByID returns the bucket with id, with its lifecycle rules
// populated, or NotFound.
func (q *Queries) GetBucketByID(ctx context.Context, id string) (*Bucket, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, location, storage_class, versioning_enabled, created_at, updated_at, metageneration
		FROM buckets WHERE id = ?`, id)
	b, err := scanBucket(row)
	if err != nil {
		return nil, err
	}
	rules, err := q.ListLifecycleRules(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.LifecycleRules = rules
	return b, nil
}

func scanBucket(row *sql.Row) (*Bucket, error) {
	b := &Bucket{}
	var versioning int
	var created, updated string
	err := row.Scan(&b.ID, &b.Name, &b.ProjectID, &b.Location, &b.StorageClass, &versioning, &created, &updated, &b.Metageneration)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "bucketNotFound", "bucket not found")
		}
		return nil, err
	}
	b.VersioningEnabled = versioning != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return b, nil
}

// ListBuckets returns every bucket belonging to projectID, ordered by
// name.
func (q *Queries) ListBuckets(ctx context.Context, projectID string) ([]*Bucket, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, project_id, location, storage_class, versioning_enabled, created_at, updated_at, metageneration
		FROM buckets WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bucket
	for rows.Next() {
		b := &Bucket{}
		var versioning int
		var created, updated string
		if err := rows.Scan(&b.ID, &b.Name, &b.ProjectID, &b.Location, &b.StorageClass, &versioning, &created, &updated, &b.Metageneration); err != nil {
			return nil, err
		}
		b.VersioningEnabled = versioning != 0
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, b)
	}
	return out, rows.Err()
}

// BumpMetageneration increments bucket bucketID's metageneration, called
// on every metadata mutation.
func (q *Queries) BumpMetageneration(ctx context.Context, bucketID string) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE buckets SET metageneration = metageneration + 1, updated_at = ? WHERE id = ?`,
		fmtTime(q.now()), bucketID)
	return err
}

// DeleteBucket removes the bucket row. Callers must have already
// confirmed no live object rows remain.
func (q *Queries) DeleteBucket(ctx context.Context, bucketID string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM buckets WHERE id = ?`, bucketID)
	return err
}

// CountObjects returns the number of non-deleted object rows (and, when
// includeVersions is true, non-deleted historical version rows too) in
// bucketID — used by bucket delete to refuse unless empty.
func (q *Queries) CountObjects(ctx context.Context, bucketID string, includeVersions bool) (int, error) {
	var n int
	if !includeVersions {
		err := q.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE bucket_id = ? AND deleted = 0`, bucketID).Scan(&n)
		return n, err
	}
	err := q.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM object_versions v
		JOIN objects o ON o.id = v.object_id
		WHERE o.bucket_id = ? AND v.deleted_at IS NULL`, bucketID).Scan(&n)
	return n, err
}

// ReplaceLifecycleRules deletes bucketID's existing rules and inserts
// rules in their place.
func (q *Queries) ReplaceLifecycleRules(ctx context.Context, bucketID string, rules []LifecycleRule) error {
	if _, err := q.tx.ExecContext(ctx, `DELETE FROM lifecycle_rules WHERE bucket_id = ?`, bucketID); err != nil {
		return err
	}
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			r.ID = NewID()
		}
		r.BucketID = bucketID
		var createdBefore interface{}
		if r.CreatedBefore != nil {
			createdBefore = fmtTime(*r.CreatedBefore)
		}
		_, err := q.tx.ExecContext(ctx, `
			INSERT INTO lifecycle_rules (id, bucket_id, action, storage_class, age_days, created_before, num_newer_versions, matches_prefix)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.BucketID, string(r.Action), r.StorageClass, r.AgeDays, createdBefore, r.NumNewerVersions, r.MatchesPrefix)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListLifecycleRules returns every rule configured on bucketID.
func (q *Queries) ListLifecycleRules(ctx context.Context, bucketID string) ([]LifecycleRule, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, bucket_id, action, storage_class, age_days, created_before, num_newer_versions, matches_prefix
		FROM lifecycle_rules WHERE bucket_id = ?`, bucketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LifecycleRule
	for rows.Next() {
		var r LifecycleRule
		var createdBefore sql.NullString
		if err := rows.Scan(&r.ID, &r.BucketID, &r.Action, &r.StorageClass, &r.AgeDays, &createdBefore, &r.NumNewerVersions, &r.MatchesPrefix); err != nil {
			return nil, err
		}
		if createdBefore.Valid {
			t, _ := time.Parse(time.RFC3339Nano, createdBefore.String)
			r.CreatedBefore = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListBucketsWithRules returns every bucket that has at least one
// lifecycle rule configured, across all projects — used by the
// lifecycle worker's periodic sweep.
func (q *Queries) ListBucketsWithRules(ctx context.Context) ([]*Bucket, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT DISTINCT b.id, b.name, b.project_id, b.location, b.storage_class, b.versioning_enabled, b.created_at, b.updated_at, b.metageneration
		FROM buckets b JOIN lifecycle_rules r ON r.bucket_id = b.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bucket
	for rows.Next() {
		b := &Bucket{}
		var versioning int
		var created, updated string
		if err := rows.Scan(&b.ID, &b.Name, &b.ProjectID, &b.Location, &b.StorageClass, &versioning, &created, &updated, &b.Metageneration); err != nil {
			return nil, err
		}
		b.VersioningEnabled = versioning != 0
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		rules, err := q.ListLifecycleRules(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		b.LifecycleRules = rules
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }
