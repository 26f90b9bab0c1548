package wire

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

func TestBucketConvertsLifecycleRules(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	age := 30
	b := &store.Bucket{
		ID:                "bucket-id",
		Name:              "my-bucket",
		Location:          "US",
		StorageClass:      "STANDARD",
		VersioningEnabled: true,
		Metageneration:    2,
		CreatedAt:         created,
		UpdatedAt:         created,
		LifecycleRules: []store.LifecycleRule{
			{Action: store.LifecycleDelete, AgeDays: &age, MatchesPrefix: "tmp/"},
		},
	}

	got := Bucket(b)
	want := &storage.Bucket{
		Kind:           "storage#bucket",
		Id:             "bucket-id",
		Name:           "my-bucket",
		Location:       "US",
		StorageClass:   "STANDARD",
		TimeCreated:    created.Format(rfc3339),
		Updated:        created.Format(rfc3339),
		Metageneration: 2,
		SelfLink:       "https://storage.googleapis.com/storage/v1/b/my-bucket",
		Versioning:     &storage.BucketVersioning{Enabled: true},
		Lifecycle: &storage.BucketLifecycle{
			Rule: []*storage.BucketLifecycleRule{
				{
					Action:    &storage.BucketLifecycleRuleAction{Type: "Delete"},
					Condition: &storage.BucketLifecycleRuleCondition{Age: 30, MatchesPrefix: []string{"tmp/"}},
				},
			},
		},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Bucket() mismatch (-want +got):\n%s", diff)
	}
}

func TestObjectConvertsVersionFields(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := &store.Object{BucketID: "b1", Name: "hello.txt"}
	v := &store.ObjectVersion{
		Generation:  1,
		ContentType: "text/plain",
		Size:        11,
		MD5:         "abc",
		CRC32C:      "def",
		CreatedAt:   created,
	}

	got := Object(o, v)
	want := &storage.Object{
		Kind:           "storage#object",
		Id:             "b1/hello.txt/1",
		Name:           "hello.txt",
		Bucket:         "b1",
		Generation:     1,
		Metageneration: 1,
		ContentType:    "text/plain",
		Size:           11,
		Md5Hash:        "abc",
		Crc32c:         "def",
		TimeCreated:    created.Format(rfc3339),
		Updated:        created.Format(rfc3339),
		SelfLink:       "https://storage.googleapis.com/storage/v1/b/b1/o/hello.txt",
		MediaLink:      "https://storage.googleapis.com/download/storage/v1/b/b1/o/hello.txt?alt=media",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Object() mismatch (-want +got):\n%s", diff)
	}
}
