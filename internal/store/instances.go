package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateInstance inserts inst. (project_id, zone, name) collisions
// surface as emuerr.AlreadyExists.
func (q *Queries) CreateInstance(ctx context.Context, inst *Instance) error {
	inst.ID = NewID()
	now := q.now()
	inst.CreatedAt, inst.UpdatedAt = now, now
	metadata, err := json.Marshal(inst.Metadata)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(inst.Labels)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(inst.Tags)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO instances (id, name, project_id, zone, machine_type, image, cpu, memory_mb, state, container_id,
			network_id, subnet_id, internal_ip, metadata_json, labels_json, tags_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Name, inst.ProjectID, inst.Zone, inst.MachineType, inst.Image, inst.CPU, inst.MemoryMB,
		string(inst.State), inst.ContainerID, inst.NetworkID, inst.SubnetID, inst.InternalIP,
		string(metadata), string(labels), string(tags), fmtTime(now), fmtTime(now))
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "instanceCreateFailed", "cannot create instance "+inst.Name)
	}
	return nil
}

// GetInstanceByName returns the instance named name in (projectID,
// zone), or NotFound.
func (q *Queries) GetInstanceByName(ctx context.Context, projectID, zone, name string) (*Instance, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, zone, machine_type, image, cpu, memory_mb, state, container_id,
			network_id, subnet_id, internal_ip, metadata_json, labels_json, tags_json, created_at, updated_at
		FROM instances WHERE project_id = ? AND zone = ? AND name = ?`, projectID, zone, name)
	return scanInstance(row)
}

// GetInstanceByID returns the instance by id, or NotFound.
func (q *Queries) GetInstanceByID(ctx context.Context, id string) (*Instance, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, zone, machine_type, image, cpu, memory_mb, state, container_id,
			network_id, subnet_id, internal_ip, metadata_json, labels_json, tags_json, created_at, updated_at
		FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

func scanInstance(row *sql.Row) (*Instance, error) {
	inst := &Instance{}
	var metadata, labels, tags string
	var created, updated string
	err := row.Scan(&inst.ID, &inst.Name, &inst.ProjectID, &inst.Zone, &inst.MachineType, &inst.Image, &inst.CPU, &inst.MemoryMB,
		&inst.State, &inst.ContainerID, &inst.NetworkID, &inst.SubnetID, &inst.InternalIP, &metadata, &labels, &tags, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "instanceNotFound", "instance not found")
		}
		return nil, err
	}
	if err := unmarshalAll(
		jsonField{metadata, &inst.Metadata},
		jsonField{labels, &inst.Labels},
		jsonField{tags, &inst.Tags},
	); err != nil {
		return nil, err
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return inst, nil
}

// ListInstances returns every instance of (projectID, zone). An empty
// zone lists across every zone in the project.
func (q *Queries) ListInstances(ctx context.Context, projectID, zone string) ([]*Instance, error) {
	query := `
		SELECT id, name, project_id, zone, machine_type, image, cpu, memory_mb, state, container_id,
			network_id, subnet_id, internal_ip, metadata_json, labels_json, tags_json, created_at, updated_at
		FROM instances WHERE project_id = ?`
	args := []interface{}{projectID}
	if zone != "" {
		query += ` AND zone = ?`
		args = append(args, zone)
	}
	query += ` ORDER BY zone, name`
	rows, err := q.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Instance
	for rows.Next() {
		inst := &Instance{}
		var metadata, labels, tags string
		var created, updated string
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.ProjectID, &inst.Zone, &inst.MachineType, &inst.Image, &inst.CPU, &inst.MemoryMB,
			&inst.State, &inst.ContainerID, &inst.NetworkID, &inst.SubnetID, &inst.InternalIP, &metadata, &labels, &tags, &created, &updated); err != nil {
			return nil, err
		}
		if err := unmarshalAll(
			jsonField{metadata, &inst.Metadata},
			jsonField{labels, &inst.Labels},
			jsonField{tags, &inst.Tags},
		); err != nil {
			return nil, err
		}
		inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ListInstancesByState returns every instance across all projects
// currently in state, used by the reconciler to find stale
// PROVISIONING rows and by the container driver reconcile pass.
func (q *Queries) ListInstancesByState(ctx context.Context, state InstanceState) ([]*Instance, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, project_id, zone, machine_type, image, cpu, memory_mb, state, container_id,
			network_id, subnet_id, internal_ip, metadata_json, labels_json, tags_json, created_at, updated_at
		FROM instances WHERE state = ?`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Instance
	for rows.Next() {
		inst := &Instance{}
		var metadata, labels, tags string
		var created, updated string
		if err := rows.Scan(&inst.ID, &inst.Name, &inst.ProjectID, &inst.Zone, &inst.MachineType, &inst.Image, &inst.CPU, &inst.MemoryMB,
			&inst.State, &inst.ContainerID, &inst.NetworkID, &inst.SubnetID, &inst.InternalIP, &metadata, &labels, &tags, &created, &updated); err != nil {
			return nil, err
		}
		if err := unmarshalAll(
			jsonField{metadata, &inst.Metadata},
			jsonField{labels, &inst.Labels},
			jsonField{tags, &inst.Tags},
		); err != nil {
			return nil, err
		}
		inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateInstanceState transitions inst.ID to state, optionally recording
// the driver's container id (pass "" to leave it unchanged).
func (q *Queries) UpdateInstanceState(ctx context.Context, id string, state InstanceState, containerID string) error {
	if containerID == "" {
		_, err := q.tx.ExecContext(ctx, `UPDATE instances SET state = ?, updated_at = ? WHERE id = ?`,
			string(state), fmtTime(q.now()), id)
		return err
	}
	_, err := q.tx.ExecContext(ctx, `UPDATE instances SET state = ?, container_id = ?, updated_at = ? WHERE id = ?`,
		string(state), containerID, fmtTime(q.now()), id)
	return err
}

// DeleteInstance removes inst's row entirely. The compute service calls
// this after its best-effort container removal, without marking the
// row DELETED first.
func (q *Queries) DeleteInstance(ctx context.Context, id string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	return err
}
