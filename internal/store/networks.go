package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateNetwork inserts n. (project_id, name) collisions surface as
// emuerr.AlreadyExists.
func (q *Queries) CreateNetwork(ctx context.Context, n *Network) error {
	n.ID = NewID()
	n.CreatedAt = q.now()
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO networks (id, name, project_id, auto_create_subnetworks, cidr_range, host_network_id, host_network_name, routing_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.ProjectID, boolToInt(n.AutoCreateSubnetworks), n.CIDRRange, n.HostNetworkID, n.HostNetworkName,
		string(n.RoutingMode), fmtTime(n.CreatedAt))
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "networkCreateFailed", "cannot create network "+n.Name)
	}
	return nil
}

// GetNetworkByName returns the network named name in projectID, or
// NotFound.
func (q *Queries) GetNetworkByName(ctx context.Context, projectID, name string) (*Network, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, auto_create_subnetworks, cidr_range, host_network_id, host_network_name, routing_mode, created_at
		FROM networks WHERE project_id = ? AND name = ?`, projectID, name)
	return scanNetwork(row)
}

// GetNetworkByID returns the network by id, or NotFound.
func (q *Queries) GetNetworkByID(ctx context.Context, id string) (*Network, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, project_id, auto_create_subnetworks, cidr_range, host_network_id, host_network_name, routing_mode, created_at
		FROM networks WHERE id = ?`, id)
	return scanNetwork(row)
}

func scanNetwork(row *sql.Row) (*Network, error) {
	n := &Network{}
	var auto int
	var created string
	err := row.Scan(&n.ID, &n.Name, &n.ProjectID, &auto, &n.CIDRRange, &n.HostNetworkID, &n.HostNetworkName, &n.RoutingMode, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "networkNotFound", "network not found")
		}
		return nil, err
	}
	n.AutoCreateSubnetworks = auto != 0
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return n, nil
}

// ListNetworks returns every network of projectID.
func (q *Queries) ListNetworks(ctx context.Context, projectID string) ([]*Network, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, project_id, auto_create_subnetworks, cidr_range, host_network_id, host_network_name, routing_mode, created_at
		FROM networks WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Network
	for rows.Next() {
		n := &Network{}
		var auto int
		var created string
		if err := rows.Scan(&n.ID, &n.Name, &n.ProjectID, &auto, &n.CIDRRange, &n.HostNetworkID, &n.HostNetworkName, &n.RoutingMode, &created); err != nil {
			return nil, err
		}
		n.AutoCreateSubnetworks = auto != 0
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetNetworkHostID records the container driver's id for the host
// network backing networkID, once it has been created.
func (q *Queries) SetNetworkHostID(ctx context.Context, networkID, hostNetworkID string) error {
	_, err := q.tx.ExecContext(ctx, `UPDATE networks SET host_network_id = ? WHERE id = ?`, hostNetworkID, networkID)
	return err
}

// DeleteNetwork removes n and cascades to its subnets, firewall rules
// and routes. Callers must have already confirmed no instance
// references it.
func (q *Queries) DeleteNetwork(ctx context.Context, id string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM networks WHERE id = ?`, id)
	return err
}

// CountInstancesUsingNetwork returns how many instances reference
// networkID, used by network delete to refuse while instances remain.
func (q *Queries) CountInstancesUsingNetwork(ctx context.Context, networkID string) (int, error) {
	var n int
	err := q.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE network_id = ? AND state != 'DELETED'`, networkID).Scan(&n)
	return n, err
}
