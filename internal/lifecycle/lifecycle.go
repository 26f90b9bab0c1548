// Package lifecycle is the background worker (C10) that applies bucket
// lifecycle rules, sweeps expired resumable sessions and signed URL
// tokens, and garbage collects blobs no live row references any more.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/objects"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// Worker owns every handle its periodic sweeps need.
type Worker struct {
	Store               *store.Store
	Blobs               *blobstore.Store
	Objects             *objects.Service
	SweepInterval       time.Duration
	ResumableSessionTTL time.Duration
	Log                 *zap.SugaredLogger
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.Log.Errorw("lifecycle tick failed", "error", err)
			}
		}
	}
}

// Tick runs one full sweep pass. The four phases are independent; a
// failure in one does not stop the others from running.
func (w *Worker) Tick(ctx context.Context) error {
	var result *multierror.Error
	if err := w.applyLifecycleRules(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if n, err := w.Objects.SweepExpiredResumableSessions(ctx, w.ResumableSessionTTL); err != nil {
		result = multierror.Append(result, err)
	} else if n > 0 {
		w.Log.Infow("swept expired resumable sessions", "count", n)
	}
	if err := w.Objects.SweepExpiredSignedURLTokens(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.garbageCollectBlobs(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (w *Worker) applyLifecycleRules(ctx context.Context) error {
	var buckets []*store.Bucket
	if err := w.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		buckets, err = q.ListBucketsWithRules(ctx)
		return err
	}); err != nil {
		return err
	}

	for _, b := range buckets {
		if err := w.applyBucketRules(ctx, b); err != nil {
			w.Log.Errorw("lifecycle sweep failed for bucket", "bucket", b.Name, "error", err)
		}
	}
	return nil
}

// applyBucketRules evaluates b's rules against every live object version
// it holds, deleting any version a Delete rule matches. SetStorageClass
// rules are recognized but have no observable effect: the emulator has
// only one storage tier per bucket.
func (w *Worker) applyBucketRules(ctx context.Context, b *store.Bucket) error {
	objectIDs, err := w.listLiveObjectIDs(ctx, b.ID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, oid := range objectIDs {
		var obj *store.Object
		var versions []*store.ObjectVersion
		if err := w.Store.Tx(ctx, func(q *store.Queries) error {
			var err error
			obj, err = q.GetObjectByID(ctx, oid)
			if err != nil {
				return err
			}
			versions, err = q.ListVersions(ctx, oid)
			return err
		}); err != nil {
			return err
		}
		if obj.Deleted {
			continue
		}

		// ListVersions orders newest generation first, so a version's
		// index is exactly the count of live versions newer than it.
		for i, v := range versions {
			if !matchesDeleteRule(b.LifecycleRules, obj.Name, v, i, now) {
				continue
			}
			if err := w.Objects.Delete(ctx, objects.DeleteParams{
				BucketName: b.Name,
				ObjectName: obj.Name,
				Generation: v.Generation,
			}); err != nil {
				w.Log.Errorw("lifecycle delete failed", "bucket", b.Name, "object", obj.Name, "generation", v.Generation, "error", err)
				continue
			}
			w.Log.Infow("lifecycle rule deleted object version", "bucket", b.Name, "object", obj.Name, "generation", v.Generation)
		}
	}
	return nil
}

func matchesDeleteRule(rules []store.LifecycleRule, objectName string, v *store.ObjectVersion, newerCount int, now time.Time) bool {
	for _, r := range rules {
		if r.Action != store.LifecycleDelete {
			continue
		}
		if r.MatchesPrefix != "" && !strings.HasPrefix(objectName, r.MatchesPrefix) {
			continue
		}
		if r.AgeDays != nil && now.Sub(v.CreatedAt) < time.Duration(*r.AgeDays)*24*time.Hour {
			continue
		}
		if r.CreatedBefore != nil && !v.CreatedAt.Before(*r.CreatedBefore) {
			continue
		}
		if r.NumNewerVersions != nil && newerCount < *r.NumNewerVersions {
			continue
		}
		return true
	}
	return false
}

func (w *Worker) listLiveObjectIDs(ctx context.Context, bucketID string) ([]string, error) {
	const pageSize = 500
	var ids []string
	after := ""
	for {
		var rows []store.ObjectListRow
		if err := w.Store.Tx(ctx, func(q *store.Queries) error {
			var err error
			rows, err = q.ListObjectsPage(ctx, bucketID, "", after, 0, false, pageSize)
			return err
		}); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			ids = append(ids, r.ObjectID)
		}
		after = rows[len(rows)-1].Name
		if len(rows) < pageSize {
			break
		}
	}
	return ids, nil
}

func (w *Worker) garbageCollectBlobs(ctx context.Context) error {
	var paths []string
	if err := w.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		paths, err = q.ListLiveStoragePaths(ctx)
		return err
	}); err != nil {
		return err
	}

	live := make(map[string]bool, len(paths))
	for _, p := range paths {
		live[p] = true
	}

	removed, err := w.Blobs.GC(ctx, live)
	if err != nil {
		return err
	}
	if removed > 0 {
		w.Log.Infow("garbage collected orphan blobs", "removed", removed)
	}
	return nil
}
