package objects

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

func newTestService(t *testing.T) *Service {
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
	return &Service{Store: s, Blobs: blobs}
}

func mustCreateBucket(t *testing.T, svc *Service, name string, versioning bool) {
	t.Helper()
	ctx := context.Background()
	p, err := svc.Store.EnsureProject(ctx, "demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	_, err = svc.CreateBucket(ctx, CreateBucketParams{ProjectID: p.ID, Name: name, VersioningEnabled: versioning})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
}

func TestUploadThenDownloadRoundTrips(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	want := "hello world"
	_, ver, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", ContentType: "text/plain", Content: strings.NewReader(want)})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ver.Size != int64(len(want)) {
		t.Fatalf("Size = %d, want %d", ver.Size, len(want))
	}

	_, r, err := svc.Download(ctx, "bkt1", "o1", 0, 0, -1)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != want {
		t.Fatalf("content = %q, want %q", got, want)
	}
}

func TestUploadWithoutVersioningRemovesSupersededBlob(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	_, first, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("v1")})
	if err != nil {
		t.Fatalf("Upload first: %v", err)
	}
	if _, err := svc.Blobs.Stat(first.StoragePath); err != nil {
		t.Fatalf("first blob missing before overwrite: %v", err)
	}

	if _, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("v2")}); err != nil {
		t.Fatalf("Upload second: %v", err)
	}

	if _, err := svc.Blobs.Stat(first.StoragePath); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want superseded blob removed, got err = %v", err)
	}
}

func TestDeleteWithVersioningSoftDeletesThenHistoryIsReachable(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", true)
	ctx := context.Background()

	_, v1, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("v1")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := svc.Delete(ctx, DeleteParams{BucketName: "bkt1", ObjectName: "o1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, _, err := svc.Download(ctx, "bkt1", "o1", 0, 0, -1); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want NotFound downloading current generation after soft delete, got %v", err)
	}

	if _, err := svc.Blobs.Stat(v1.StoragePath); err != nil {
		t.Fatalf("soft-deleted generation's blob should still exist for undelete: %v", err)
	}
	_, r, err := svc.Download(ctx, "bkt1", "o1", v1.Generation, 0, -1)
	if err != nil {
		t.Fatalf("Download by generation: %v", err)
	}
	r.Close()
}

func TestDeleteWithoutVersioningHardDeletesBlob(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	_, v1, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("v1")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := svc.Delete(ctx, DeleteParams{BucketName: "bkt1", ObjectName: "o1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Blobs.Stat(v1.StoragePath); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want blob removed on hard delete, got %v", err)
	}
}

func TestGenerationPreconditionRejectsStaleUpload(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	stale := int64(5)
	_, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("v1"), IfGenerationMatch: &stale})
	if emuerr.KindOf(err) != emuerr.PreconditionFailed {
		t.Fatalf("want PreconditionFailed for generation mismatch on a new object, got %v", err)
	}
}

func TestResumableUploadFinalizes(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	id, err := svc.InitiateResumable(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", ContentType: "application/octet-stream"})
	if err != nil {
		t.Fatalf("InitiateResumable: %v", err)
	}
	if _, err := svc.UploadChunk(ctx, id, 0, bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatalf("UploadChunk 1: %v", err)
	}
	n, err := svc.UploadChunk(ctx, id, 3, bytes.NewReader([]byte("def")))
	if err != nil {
		t.Fatalf("UploadChunk 2: %v", err)
	}
	if n != 6 {
		t.Fatalf("bytes received = %d, want 6", n)
	}

	_, ver, err := svc.FinalizeResumable(ctx, id)
	if err != nil {
		t.Fatalf("FinalizeResumable: %v", err)
	}
	if ver.Size != 6 {
		t.Fatalf("finalized size = %d, want 6", ver.Size)
	}

	_, r, err := svc.Download(ctx, "bkt1", "o1", 0, 0, -1)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "abcdef" {
		t.Fatalf("content = %q, want %q", got, "abcdef")
	}
}

func TestUploadChunkRejectsOffsetMismatch(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	id, err := svc.InitiateResumable(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1"})
	if err != nil {
		t.Fatalf("InitiateResumable: %v", err)
	}
	if _, err := svc.UploadChunk(ctx, id, 0, bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatalf("UploadChunk 1: %v", err)
	}
	n, err := svc.UploadChunk(ctx, id, 5, bytes.NewReader([]byte("def")))
	if emuerr.KindOf(err) != emuerr.OutOfRange {
		t.Fatalf("want OutOfRange on offset mismatch, got %v", err)
	}
	if n != 3 {
		t.Fatalf("mismatch offset = %d, want current bytes_received 3", n)
	}
}

func TestCreateBucketRejectsInvalidName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.Store.EnsureProject(ctx, "demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}

	for _, name := range []string{"ab", "AB_bucket", "bad..name", "-leading-dash", "trailing-dash-"} {
		if _, err := svc.CreateBucket(ctx, CreateBucketParams{ProjectID: p.ID, Name: name}); emuerr.KindOf(err) != emuerr.InvalidArgument {
			t.Fatalf("bucket name %q: want InvalidArgument, got %v", name, err)
		}
	}
}

func TestUploadRejectsInvalidObjectName(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	long := strings.Repeat("a", 1025)
	for _, name := range []string{"", long, "has\x00nul", "has\rcr", "has\nlf", " leading-space", "trailing-space ", "double//slash"} {
		_, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: name, Content: strings.NewReader("x")})
		if emuerr.KindOf(err) != emuerr.InvalidArgument {
			t.Fatalf("object name %q: want InvalidArgument, got %v", name, err)
		}
	}

	ok := strings.Repeat("a", 1024)
	if _, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: ok, Content: strings.NewReader("x")}); err != nil {
		t.Fatalf("1024-byte object name should be accepted: %v", err)
	}
}

func TestSweepExpiredResumableSessionsRemovesTempBlob(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	id, err := svc.InitiateResumable(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1"})
	if err != nil {
		t.Fatalf("InitiateResumable: %v", err)
	}
	var tempPath string
	if err := svc.Store.Tx(ctx, func(q *store.Queries) error {
		rs, err := q.GetResumableSession(ctx, id)
		if err != nil {
			return err
		}
		tempPath = rs.TempPath
		return nil
	}); err != nil {
		t.Fatalf("lookup session: %v", err)
	}

	n, err := svc.SweepExpiredResumableSessions(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("SweepExpiredResumableSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := svc.Blobs.Stat(tempPath); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want temp blob removed, got %v", err)
	}
}

func TestSignedURLRejectsWrongMethodAndExpiry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	token, err := svc.CreateSignedURL(ctx, "bkt1", "o1", "GET", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateSignedURL: %v", err)
	}
	if _, _, err := svc.ResolveSignedURL(ctx, token, "PUT"); emuerr.KindOf(err) != emuerr.InvalidArgument {
		t.Fatalf("want InvalidArgument for wrong method, got %v", err)
	}
	bucket, object, err := svc.ResolveSignedURL(ctx, token, "GET")
	if err != nil {
		t.Fatalf("ResolveSignedURL: %v", err)
	}
	if bucket != "bkt1" || object != "o1" {
		t.Fatalf("got (%s, %s), want (bkt1, o1)", bucket, object)
	}

	expired, err := svc.CreateSignedURL(ctx, "bkt1", "o1", "GET", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateSignedURL expired: %v", err)
	}
	if _, _, err := svc.ResolveSignedURL(ctx, expired, "GET"); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want NotFound for expired token, got %v", err)
	}
}

func TestListObjectsPagination(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: name, Content: strings.NewReader(name)}); err != nil {
			t.Fatalf("Upload %s: %v", name, err)
		}
	}

	page, err := svc.List(ctx, ListParams{BucketName: "bkt1", PageSize: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Rows) != 2 || page.NextPageToken == "" {
		t.Fatalf("first page = %d rows, token %q, want 2 rows and a token", len(page.Rows), page.NextPageToken)
	}

	page2, err := svc.List(ctx, ListParams{BucketName: "bkt1", PageSize: 2, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2.Rows) != 1 {
		t.Fatalf("second page = %d rows, want 1", len(page2.Rows))
	}
}

func TestDeleteBucketRefusesWhenNotEmpty(t *testing.T) {
	svc := newTestService(t)
	mustCreateBucket(t, svc, "bkt1", false)
	ctx := context.Background()

	if _, _, err := svc.Upload(ctx, UploadParams{BucketName: "bkt1", ObjectName: "o1", Content: strings.NewReader("x")}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := svc.DeleteBucket(ctx, "bkt1"); emuerr.KindOf(err) != emuerr.FailedPrecondition {
		t.Fatalf("want FailedPrecondition deleting non-empty bucket, got %v", err)
	}
}
