package lifecycle

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/emulog"
	"github.com/crossplane-contrib/cloudlocal/internal/objects"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

func newTestWorker(t *testing.T) (*Worker, *objects.Service) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}

	objSvc := &objects.Service{Store: s, Blobs: blobs}
	w := &Worker{
		Store:               s,
		Blobs:               blobs,
		Objects:             objSvc,
		SweepInterval:       time.Minute,
		ResumableSessionTTL: time.Hour,
		Log:                 emulog.Nop(),
	}
	return w, objSvc
}

func mustCreateBucket(t *testing.T, objSvc *objects.Service, name string, rules []store.LifecycleRule) *store.Bucket {
	t.Helper()
	ctx := context.Background()
	p, err := objSvc.Store.EnsureProject(ctx, "demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	b, err := objSvc.CreateBucket(ctx, objects.CreateBucketParams{ProjectID: p.ID, Name: name, LifecycleRules: rules})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	return b
}

func mustUpload(t *testing.T, objSvc *objects.Service, bucket, name, content string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := objSvc.Upload(ctx, objects.UploadParams{BucketName: bucket, ObjectName: name, Content: strings.NewReader(content)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func TestMatchesDeleteRuleHonorsAgeDays(t *testing.T) {
	age0 := 0
	rules := []store.LifecycleRule{{Action: store.LifecycleDelete, AgeDays: &age0}}
	v := &store.ObjectVersion{CreatedAt: time.Now().UTC()}
	if !matchesDeleteRule(rules, "any", v, 0, time.Now().UTC()) {
		t.Fatalf("expected age_days=0 rule to match immediately")
	}

	age30 := 30
	rules = []store.LifecycleRule{{Action: store.LifecycleDelete, AgeDays: &age30}}
	if matchesDeleteRule(rules, "any", v, 0, time.Now().UTC()) {
		t.Fatalf("expected age_days=30 rule not to match a version created just now")
	}
}

func TestMatchesDeleteRuleHonorsPrefix(t *testing.T) {
	age0 := 0
	rules := []store.LifecycleRule{{Action: store.LifecycleDelete, AgeDays: &age0, MatchesPrefix: "logs/"}}
	v := &store.ObjectVersion{CreatedAt: time.Now().UTC()}
	if matchesDeleteRule(rules, "data/file.txt", v, 0, time.Now().UTC()) {
		t.Fatalf("prefix-scoped rule should not match an object outside the prefix")
	}
	if !matchesDeleteRule(rules, "logs/file.txt", v, 0, time.Now().UTC()) {
		t.Fatalf("prefix-scoped rule should match an object under the prefix")
	}
}

func TestMatchesDeleteRuleHonorsNumNewerVersions(t *testing.T) {
	n := 2
	rules := []store.LifecycleRule{{Action: store.LifecycleDelete, NumNewerVersions: &n}}
	v := &store.ObjectVersion{CreatedAt: time.Now().UTC()}
	if matchesDeleteRule(rules, "any", v, 1, time.Now().UTC()) {
		t.Fatalf("want no match with only 1 newer version when rule requires 2")
	}
	if !matchesDeleteRule(rules, "any", v, 2, time.Now().UTC()) {
		t.Fatalf("want match with 2 newer versions")
	}
}

func TestTickDeletesObjectsMatchingAgeRule(t *testing.T) {
	age0 := 0
	w, objSvc := newTestWorker(t)
	mustCreateBucket(t, objSvc, "bkt1", []store.LifecycleRule{{Action: store.LifecycleDelete, AgeDays: &age0}})
	mustUpload(t, objSvc, "bkt1", "obj.txt", "hello")

	ctx := context.Background()
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if _, _, err := objSvc.Download(ctx, "bkt1", "obj.txt", 0, 0, 0); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want object deleted by lifecycle sweep, got %v", err)
	}
}

func TestTickLeavesObjectsOutsideRulePrefix(t *testing.T) {
	age0 := 0
	w, objSvc := newTestWorker(t)
	mustCreateBucket(t, objSvc, "bkt1", []store.LifecycleRule{{Action: store.LifecycleDelete, AgeDays: &age0, MatchesPrefix: "tmp/"}})
	mustUpload(t, objSvc, "bkt1", "keep.txt", "hello")

	ctx := context.Background()
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	_, rc, err := objSvc.Download(ctx, "bkt1", "keep.txt", 0, 0, 0)
	if err != nil {
		t.Fatalf("object outside the rule's prefix should survive, got %v", err)
	}
	rc.Close()
}

func TestGarbageCollectBlobsRemovesOrphanFile(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := context.Background()

	rel := w.Blobs.NewPath()
	wc, err := w.Blobs.Create(rel)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := io.WriteString(wc, "orphan"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if _, err := w.Blobs.Stat(rel); err == nil {
		t.Fatalf("expected orphan blob to be garbage collected")
	}
}
