package store

import (
	"context"
	"testing"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureProjectIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p1, err := s.EnsureProject(ctx, "demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	p2, err := s.EnsureProject(ctx, "demo")
	if err != nil {
		t.Fatalf("EnsureProject (second): %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatalf("EnsureProject returned different ids across calls: %s vs %s", p1.ID, p2.ID)
	}
	if p1.Number != p2.Number {
		t.Fatalf("project number changed across calls")
	}
}

func TestGetProjectByNameNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProjectByName(context.Background(), "missing")
	if emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestBucketLifecycleRulesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var bucket *Bucket
	err := s.Tx(ctx, func(q *Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		age := 30
		bucket = &Bucket{
			ID:        NewID(),
			Name:      "my-bucket",
			ProjectID: p.ID,
			Location:  "US",
			StorageClass: "STANDARD",
			LifecycleRules: []LifecycleRule{
				{Action: LifecycleDelete, AgeDays: &age},
			},
		}
		return q.CreateBucket(ctx, bucket)
	})
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		got, err := q.GetBucketByName(ctx, "my-bucket")
		if err != nil {
			return err
		}
		if len(got.LifecycleRules) != 1 {
			t.Fatalf("want 1 lifecycle rule, got %d", len(got.LifecycleRules))
		}
		if got.LifecycleRules[0].AgeDays == nil || *got.LifecycleRules[0].AgeDays != 30 {
			t.Fatalf("lifecycle rule age not round-tripped")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("GetBucketByName: %v", err)
	}
}

func TestBucketNameUniqueAcrossProjects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	create := func(project string) error {
		return s.Tx(ctx, func(q *Queries) error {
			p, err := q.EnsureProject(ctx, project)
			if err != nil {
				return err
			}
			return q.CreateBucket(ctx, &Bucket{ID: NewID(), Name: "shared-name", ProjectID: p.ID, Location: "US", StorageClass: "STANDARD"})
		})
	}
	if err := create("proj-a"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := create("proj-b")
	if emuerr.KindOf(err) != emuerr.AlreadyExists {
		t.Fatalf("want AlreadyExists across projects, got %v", err)
	}
}

func TestObjectGenerationMonotonicAcrossDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var bucketID string
	err := s.Tx(ctx, func(q *Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		b := &Bucket{ID: NewID(), Name: "b1", ProjectID: p.ID, Location: "US", StorageClass: "STANDARD"}
		if err := q.CreateBucket(ctx, b); err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	upload := func() (int64, error) {
		var gen int64
		err := s.Tx(ctx, func(q *Queries) error {
			obj, err := q.GetOrCreateObjectRow(ctx, bucketID, "file.txt")
			if err != nil {
				return err
			}
			gen, err = q.NextGeneration(ctx, obj.ID)
			if err != nil {
				return err
			}
			_, err = q.CommitVersion(ctx, obj, &ObjectVersion{Generation: gen, StoragePath: "blob/1", Size: 10}, false)
			return err
		})
		return gen, err
	}

	g1, err := upload()
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if g1 != 1 {
		t.Fatalf("want generation 1, got %d", g1)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		obj, err := q.GetObjectRow(ctx, bucketID, "file.txt")
		if err != nil {
			return err
		}
		_, err = q.HardDeleteAllVersions(ctx, obj.ID)
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	g2, err := upload()
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if g2 != 2 {
		t.Fatalf("generation counter did not survive delete: want 2, got %d", g2)
	}
}

func TestCommitVersionSupersedesWithoutVersioning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var bucketID string
	err := s.Tx(ctx, func(q *Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		b := &Bucket{ID: NewID(), Name: "b1", ProjectID: p.ID, Location: "US", StorageClass: "STANDARD"}
		if err := q.CreateBucket(ctx, b); err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var supersededFirst, supersededSecond string
	err = s.Tx(ctx, func(q *Queries) error {
		obj, err := q.GetOrCreateObjectRow(ctx, bucketID, "f")
		if err != nil {
			return err
		}
		gen, err := q.NextGeneration(ctx, obj.ID)
		if err != nil {
			return err
		}
		supersededFirst, err = q.CommitVersion(ctx, obj, &ObjectVersion{Generation: gen, StoragePath: "blob/1", Size: 1}, false)
		return err
	})
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if supersededFirst != "" {
		t.Fatalf("first commit should not supersede anything, got %q", supersededFirst)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		obj, err := q.GetObjectRow(ctx, bucketID, "f")
		if err != nil {
			return err
		}
		gen, err := q.NextGeneration(ctx, obj.ID)
		if err != nil {
			return err
		}
		supersededSecond, err = q.CommitVersion(ctx, obj, &ObjectVersion{Generation: gen, StoragePath: "blob/2", Size: 2}, false)
		return err
	})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if supersededSecond != "blob/1" {
		t.Fatalf("want superseded path blob/1, got %q", supersededSecond)
	}
}

func TestIAMPolicyEtagMismatchRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Tx(ctx, func(q *Queries) error {
		policy, err := q.GetIAMPolicy(ctx, "projects/demo")
		if err != nil {
			return err
		}
		policy.Bindings = []IAMBinding{{Role: "roles/viewer", Members: []string{"user:a@example.com"}}}
		return q.SetIAMPolicy(ctx, "projects/demo", policy.Etag, policy)
	})
	if err != nil {
		t.Fatalf("initial SetIAMPolicy: %v", err)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		return q.SetIAMPolicy(ctx, "projects/demo", "stale-etag", &IAMPolicy{})
	})
	if emuerr.KindOf(err) != emuerr.Aborted {
		t.Fatalf("want Aborted on etag mismatch, got %v", err)
	}
}

func TestSubnetIPAllocationNeverReused(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var subnetID string
	err := s.Tx(ctx, func(q *Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		n := &Network{ID: NewID(), Name: "vpc", ProjectID: p.ID, RoutingMode: RoutingModeRegional}
		if err := q.CreateNetwork(ctx, n); err != nil {
			return err
		}
		sub := &Subnet{Name: "sub1", NetworkID: n.ID, Region: "us-central1", IPCIDRRange: "10.0.0.0/24", GatewayIP: "10.0.0.1"}
		if err := q.CreateSubnet(ctx, sub); err != nil {
			return err
		}
		subnetID = sub.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	var first, second int64
	err = s.Tx(ctx, func(q *Queries) error {
		var err error
		first, err = q.AllocateNextIP(ctx, subnetID)
		return err
	})
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	err = s.Tx(ctx, func(q *Queries) error {
		var err error
		second, err = q.AllocateNextIP(ctx, subnetID)
		return err
	})
	if err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if second != first+1 {
		t.Fatalf("want consecutive offsets, got %d then %d", first, second)
	}
}

func TestSeedPredefinedRolesIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := func() error {
		return s.Tx(ctx, func(q *Queries) error { return q.SeedPredefinedRoles(ctx) })
	}
	if err := seed(); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := seed(); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	err := s.Tx(ctx, func(q *Queries) error {
		roles, err := q.ListRoles(ctx, "", false)
		if err != nil {
			return err
		}
		if len(roles) != len(predefinedRoles) {
			t.Fatalf("want %d predefined roles, got %d", len(predefinedRoles), len(roles))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
}

func TestResumableSessionExpirySweep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var bucketID string
	err := s.Tx(ctx, func(q *Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		b := &Bucket{ID: NewID(), Name: "b1", ProjectID: p.ID, Location: "US", StorageClass: "STANDARD"}
		if err := q.CreateBucket(ctx, b); err != nil {
			return err
		}
		bucketID = b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		return q.CreateResumableSession(ctx, &ResumableSession{BucketID: bucketID, ObjectName: "big.bin", TempPath: "/tmp/x"})
	})
	if err != nil {
		t.Fatalf("CreateResumableSession: %v", err)
	}

	err = s.Tx(ctx, func(q *Queries) error {
		expired, err := q.ListExpiredResumableSessions(ctx, time.Now().UTC().Add(time.Hour))
		if err != nil {
			return err
		}
		if len(expired) != 1 {
			t.Fatalf("want 1 expired session, got %d", len(expired))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListExpiredResumableSessions: %v", err)
	}
}
