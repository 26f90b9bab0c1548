// Package wire converts metadata store rows to the wire-shaped structs
// of google.golang.org/api/{storage,compute,iam}/v1, the same generated
// client structs the teacher's pkg/clients/* packages generate API
// requests into and read API responses out of. Conversion is one
// direction only here: store row -> wire struct; there is no external
// API this emulator calls, so there is no matching Parse-response path.
package wire

import (
	"strconv"

	"google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// Bucket converts a store.Bucket to its storage/v1 wire shape.
func Bucket(b *store.Bucket) *storage.Bucket {
	out := &storage.Bucket{
		Kind:           "storage#bucket",
		Id:             b.ID,
		Name:           b.Name,
		ProjectNumber:  0,
		Location:       b.Location,
		StorageClass:   b.StorageClass,
		TimeCreated:    b.CreatedAt.Format(rfc3339),
		Updated:        b.UpdatedAt.Format(rfc3339),
		Metageneration: b.Metageneration,
		SelfLink:       "https://storage.googleapis.com/storage/v1/b/" + b.Name,
	}
	if b.VersioningEnabled {
		out.Versioning = &storage.BucketVersioning{Enabled: true}
	}
	if len(b.LifecycleRules) > 0 {
		out.Lifecycle = &storage.BucketLifecycle{Rule: make([]*storage.BucketLifecycleRule, 0, len(b.LifecycleRules))}
		for _, r := range b.LifecycleRules {
			rule := &storage.BucketLifecycleRule{
				Action: &storage.BucketLifecycleRuleAction{
					Type:         string(r.Action),
					StorageClass: r.StorageClass,
				},
				Condition: &storage.BucketLifecycleRuleCondition{
					MatchesPrefix: nonEmptySlice(r.MatchesPrefix),
				},
			}
			if r.AgeDays != nil {
				rule.Condition.Age = int64(*r.AgeDays)
			}
			if r.CreatedBefore != nil {
				rule.Condition.CreatedBefore = r.CreatedBefore.Format("2006-01-02")
			}
			if r.NumNewerVersions != nil {
				rule.Condition.NumNewerVersions = int64(*r.NumNewerVersions)
			}
			out.Lifecycle.Rule = append(out.Lifecycle.Rule, rule)
		}
	}
	return out
}

func nonEmptySlice(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return []string{prefix}
}

// Object converts a store.Object (at its current generation) and its
// live store.ObjectVersion to the storage/v1 wire shape.
func Object(o *store.Object, v *store.ObjectVersion) *storage.Object {
	return &storage.Object{
		Kind:           "storage#object",
		Id:             o.BucketID + "/" + o.Name + "/" + strconv.FormatInt(v.Generation, 10),
		Name:           o.Name,
		Bucket:         o.BucketID,
		Generation:     v.Generation,
		Metageneration: 1,
		ContentType:    v.ContentType,
		Size:           uint64(v.Size),
		Md5Hash:        v.MD5,
		Crc32c:         v.CRC32C,
		TimeCreated:    v.CreatedAt.Format(rfc3339),
		Updated:        v.CreatedAt.Format(rfc3339),
		SelfLink:       "https://storage.googleapis.com/storage/v1/b/" + o.BucketID + "/o/" + o.Name,
		MediaLink:      "https://storage.googleapis.com/download/storage/v1/b/" + o.BucketID + "/o/" + o.Name + "?alt=media",
	}
}

const rfc3339 = "2006-01-02T15:04:05.000Z07:00"
