package identity

import (
	"context"
	"testing"

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
	svc := &Service{Store: s}
	if err := svc.SeedPredefinedRoles(ctx); err != nil {
		t.Fatalf("SeedPredefinedRoles: %v", err)
	}
	return svc
}

func TestCreateServiceAccountDerivesEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sa, err := svc.CreateServiceAccount(ctx, CreateServiceAccountParams{ProjectID: "demo", AccountID: "robot", DisplayName: "Robot"})
	if err != nil {
		t.Fatalf("CreateServiceAccount: %v", err)
	}
	want := "robot@demo.iam.gserviceaccount.com"
	if sa.Email != want {
		t.Fatalf("Email = %q, want %q", sa.Email, want)
	}

	if _, err := svc.GetServiceAccount(ctx, want); err != nil {
		t.Fatalf("GetServiceAccount: %v", err)
	}
}

func TestCreateServiceAccountKeyRejectsUnknownAccount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateServiceAccountKey(ctx, CreateKeyParams{ServiceAccountEmail: "ghost@demo.iam.gserviceaccount.com"})
	if emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want NotFound creating a key for an unknown account, got %v", err)
	}
}

func TestDeleteServiceAccountCascadesKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sa, err := svc.CreateServiceAccount(ctx, CreateServiceAccountParams{ProjectID: "demo", AccountID: "robot"})
	if err != nil {
		t.Fatalf("CreateServiceAccount: %v", err)
	}
	k, err := svc.CreateServiceAccountKey(ctx, CreateKeyParams{ServiceAccountEmail: sa.Email})
	if err != nil {
		t.Fatalf("CreateServiceAccountKey: %v", err)
	}

	if err := svc.DeleteServiceAccount(ctx, sa.Email); err != nil {
		t.Fatalf("DeleteServiceAccount: %v", err)
	}
	if _, err := svc.GetServiceAccountKey(ctx, sa.Email, k.ID); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want key gone after account delete, got %v", err)
	}
}

func TestSetIAMPolicyEtagMismatchRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resource := "projects/demo/buckets/b1"
	p1, err := svc.GetIAMPolicy(ctx, resource)
	if err != nil {
		t.Fatalf("GetIAMPolicy: %v", err)
	}
	p1.Bindings = []store.IAMBinding{{Role: "roles/viewer", Members: []string{"user:a@example.com"}}}
	if _, err := svc.SetIAMPolicy(ctx, resource, p1.Etag, p1); err != nil {
		t.Fatalf("SetIAMPolicy: %v", err)
	}

	stale := &store.IAMPolicy{Bindings: []store.IAMBinding{{Role: "roles/editor", Members: []string{"user:b@example.com"}}}}
	if _, err := svc.SetIAMPolicy(ctx, resource, "stale-etag", stale); emuerr.KindOf(err) != emuerr.Aborted {
		t.Fatalf("want Aborted for etag mismatch, got %v", err)
	}
}

func TestTestIAMPermissionsHonorsBoundRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resource := "projects/demo/buckets/b1"
	p, err := svc.GetIAMPolicy(ctx, resource)
	if err != nil {
		t.Fatalf("GetIAMPolicy: %v", err)
	}
	p.Bindings = []store.IAMBinding{{Role: "roles/storage.objectViewer", Members: []string{"user:a@example.com"}}}
	if _, err := svc.SetIAMPolicy(ctx, resource, p.Etag, p); err != nil {
		t.Fatalf("SetIAMPolicy: %v", err)
	}

	granted, err := svc.TestIAMPermissions(ctx, resource,
		[]string{"roles/storage.objectViewer"},
		[]string{"storage.objects.get", "storage.objects.delete"})
	if err != nil {
		t.Fatalf("TestIAMPermissions: %v", err)
	}
	if len(granted) != 1 || granted[0] != "storage.objects.get" {
		t.Fatalf("granted = %v, want [storage.objects.get]", granted)
	}
}

func TestCustomRoleLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	r, err := svc.CreateRole(ctx, CreateRoleParams{ProjectID: "demo", RoleID: "custom1", Title: "Custom", IncludedPermissions: []string{"storage.objects.get"}})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := svc.DeleteRole(ctx, r.Name); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	roles, err := svc.ListRoles(ctx, "demo", false)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	for _, got := range roles {
		if got.Name == r.Name {
			t.Fatalf("soft-deleted role %s should not be listed by default", r.Name)
		}
	}
	roles, err = svc.ListRoles(ctx, "demo", true)
	if err != nil {
		t.Fatalf("ListRoles includeDeleted: %v", err)
	}
	found := false
	for _, got := range roles {
		if got.Name == r.Name {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListRoles(includeDeleted=true) should still return %s", r.Name)
	}
}

func TestPredefinedRolesSeededAndReachable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	r, err := svc.GetRole(ctx, "roles/owner")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if len(r.IncludedPermissions) != 1 || r.IncludedPermissions[0] != "*" {
		t.Fatalf("roles/owner permissions = %v, want [*]", r.IncludedPermissions)
	}
}
