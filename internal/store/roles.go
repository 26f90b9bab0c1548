package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// predefinedRoles seeds the 7 roles spec.md §4.7 requires to exist at
// first startup: enough surface for the common storage/compute
// viewer/editor/admin checks a client might make against
// testIamPermissions without modelling the real platform's several
// thousand predefined roles.
var predefinedRoles = []Role{
	{
		Name: "roles/owner", Title: "Owner", Stage: RoleStageGA,
		Description:         "Full access to all resources.",
		IncludedPermissions: []string{"*"},
	},
	{
		Name: "roles/editor", Title: "Editor", Stage: RoleStageGA,
		Description: "Edit access to all resources.",
		IncludedPermissions: []string{
			"storage.buckets.get", "storage.buckets.list", "storage.buckets.create", "storage.buckets.delete",
			"storage.objects.get", "storage.objects.list", "storage.objects.create", "storage.objects.delete",
			"compute.instances.get", "compute.instances.list", "compute.instances.create", "compute.instances.delete",
		},
	},
	{
		Name: "roles/viewer", Title: "Viewer", Stage: RoleStageGA,
		Description: "Read access to all resources.",
		IncludedPermissions: []string{
			"storage.buckets.get", "storage.buckets.list",
			"storage.objects.get", "storage.objects.list",
			"compute.instances.get", "compute.instances.list",
		},
	},
	{
		Name: "roles/storage.objectViewer", Title: "Storage Object Viewer", Stage: RoleStageGA,
		Description:         "Read access to object metadata and payloads.",
		IncludedPermissions: []string{"storage.objects.get", "storage.objects.list"},
	},
	{
		Name: "roles/storage.objectAdmin", Title: "Storage Object Admin", Stage: RoleStageGA,
		Description: "Full control of objects, without access to buckets.",
		IncludedPermissions: []string{
			"storage.objects.get", "storage.objects.list", "storage.objects.create", "storage.objects.delete",
		},
	},
	{
		Name: "roles/compute.viewer", Title: "Compute Viewer", Stage: RoleStageGA,
		Description:         "Read access to compute resources.",
		IncludedPermissions: []string{"compute.instances.get", "compute.instances.list", "compute.networks.get", "compute.networks.list"},
	},
	{
		Name: "roles/compute.instanceAdmin", Title: "Compute Instance Admin", Stage: RoleStageGA,
		Description: "Full control of instances, without networking access.",
		IncludedPermissions: []string{
			"compute.instances.get", "compute.instances.list", "compute.instances.create",
			"compute.instances.delete", "compute.instances.start", "compute.instances.stop",
		},
	},
}

// SeedPredefinedRoles inserts the predefined roles if they do not
// already exist; safe to call on every startup.
func (q *Queries) SeedPredefinedRoles(ctx context.Context) error {
	for _, r := range predefinedRoles {
		perms, err := json.Marshal(r.IncludedPermissions)
		if err != nil {
			return err
		}
		if _, err := q.tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO roles (name, title, description, included_permissions, stage, is_custom, project_id, deleted)
			VALUES (?, ?, ?, ?, ?, 0, '', 0)`,
			r.Name, r.Title, r.Description, string(perms), string(r.Stage)); err != nil {
			return err
		}
	}
	return nil
}

// CreateRole inserts a custom role scoped to projectID.
func (q *Queries) CreateRole(ctx context.Context, r *Role) error {
	r.IsCustom = true
	perms, err := json.Marshal(r.IncludedPermissions)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO roles (name, title, description, included_permissions, stage, is_custom, project_id, deleted)
		VALUES (?, ?, ?, ?, ?, 1, ?, 0)`,
		r.Name, r.Title, r.Description, string(perms), string(r.Stage), r.ProjectID)
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "roleCreateFailed", "cannot create role "+r.Name)
	}
	return nil
}

// GetRole returns role name, or NotFound.
func (q *Queries) GetRole(ctx context.Context, name string) (*Role, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT name, title, description, included_permissions, stage, is_custom, project_id, deleted
		FROM roles WHERE name = ?`, name)
	return scanRole(row)
}

func scanRole(row *sql.Row) (*Role, error) {
	r := &Role{}
	var perms string
	var isCustom, deleted int
	err := row.Scan(&r.Name, &r.Title, &r.Description, &perms, &r.Stage, &isCustom, &r.ProjectID, &deleted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "roleNotFound", "role not found")
		}
		return nil, err
	}
	r.IsCustom = isCustom != 0
	r.Deleted = deleted != 0
	if err := json.Unmarshal([]byte(perms), &r.IncludedPermissions); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRoles returns predefined roles plus projectID's custom roles,
// excluding soft-deleted ones unless includeDeleted is true.
func (q *Queries) ListRoles(ctx context.Context, projectID string, includeDeleted bool) ([]*Role, error) {
	query := `
		SELECT name, title, description, included_permissions, stage, is_custom, project_id, deleted
		FROM roles WHERE (is_custom = 0 OR project_id = ?)`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY name`
	rows, err := q.tx.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		r := &Role{}
		var perms string
		var isCustom, deleted int
		if err := rows.Scan(&r.Name, &r.Title, &r.Description, &perms, &r.Stage, &isCustom, &r.ProjectID, &deleted); err != nil {
			return nil, err
		}
		r.IsCustom = isCustom != 0
		r.Deleted = deleted != 0
		if err := json.Unmarshal([]byte(perms), &r.IncludedPermissions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRole persists r's mutable fields.
func (q *Queries) UpdateRole(ctx context.Context, r *Role) error {
	perms, err := json.Marshal(r.IncludedPermissions)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, `
		UPDATE roles SET title = ?, description = ?, included_permissions = ?, stage = ? WHERE name = ? AND is_custom = 1`,
		r.Title, r.Description, string(perms), string(r.Stage), r.Name)
	return err
}

// SetRoleDeleted toggles the soft-delete flag on a custom role (delete
// and undelete are the same operation in reverse).
func (q *Queries) SetRoleDeleted(ctx context.Context, name string, deleted bool) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE roles SET deleted = ? WHERE name = ? AND is_custom = 1`, boolToInt(deleted), name)
	return err
}
