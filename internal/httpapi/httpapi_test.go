package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	storagev1 "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/emulog"
	"github.com/crossplane-contrib/cloudlocal/internal/identity"
	"github.com/crossplane-contrib/cloudlocal/internal/objects"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

func newTestServer(t *testing.T) *Server {
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

	return &Server{
		Objects:  &objects.Service{Store: s, Blobs: blobs},
		Identity: &identity.Service{Store: s},
		Log:      emulog.Nop(),
	}
}

func TestCreateBucketThenUploadThenDownloadRoundTrips(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.Objects.Store.EnsureProject(ctx, "demo"); err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	router := srv.Router()

	body, _ := json.Marshal(createBucketRequest{Name: "bkt1"})
	req := httptest.NewRequest(http.MethodPost, "/storage/v1/b?project=demo", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("createBucket status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var b storagev1.Bucket
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode bucket: %v", err)
	}
	if b.Name != "bkt1" {
		t.Fatalf("bucket name = %q, want bkt1", b.Name)
	}

	req = httptest.NewRequest(http.MethodPost, "/upload/storage/v1/b/bkt1/o?name=hello.txt", bytes.NewReader([]byte("hello world")))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("uploadObject status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/download/storage/v1/b/bkt1/o/hello.txt", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("downloadObject status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Fatalf("downloaded body = %q, want %q", rec.Body.String(), "hello world")
	}
}

func TestGetBucketNotFoundMapsTo404(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/storage/v1/b/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
