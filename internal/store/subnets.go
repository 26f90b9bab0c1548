package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateSubnet inserts sub. Callers validate CIDR containment and
// overlap against sibling subnets before calling this (netalloc), since
// that check spans multiple rows and is not expressible as a single
// column constraint.
func (q *Queries) CreateSubnet(ctx context.Context, sub *Subnet) error {
	sub.ID = NewID()
	sub.CreatedAt = q.now()
	if sub.NextAvailableIP == 0 {
		sub.NextAvailableIP = 2 // .0 is network, .1 is gateway
	}
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO subnets (id, name, network_id, region, ip_cidr_range, gateway_ip, next_available_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.NetworkID, sub.Region, sub.IPCIDRRange, sub.GatewayIP, sub.NextAvailableIP, fmtTime(sub.CreatedAt))
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "subnetCreateFailed", "cannot create subnet "+sub.Name)
	}
	return nil
}

// GetSubnetByID returns the subnet by id, or NotFound.
func (q *Queries) GetSubnetByID(ctx context.Context, id string) (*Subnet, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, network_id, region, ip_cidr_range, gateway_ip, next_available_ip, created_at
		FROM subnets WHERE id = ?`, id)
	return scanSubnet(row)
}

// GetSubnetForUpdate behaves like GetSubnetByID; the row-lock itself
// comes from the enclosing transaction (BEGIN IMMEDIATE, see db.go),
// which already serializes every writer, so an explicit SELECT ... FOR
// UPDATE style clause is unnecessary with this driver.
func (q *Queries) GetSubnetForUpdate(ctx context.Context, id string) (*Subnet, error) {
	return q.GetSubnetByID(ctx, id)
}

func scanSubnet(row *sql.Row) (*Subnet, error) {
	sub := &Subnet{}
	var created string
	err := row.Scan(&sub.ID, &sub.Name, &sub.NetworkID, &sub.Region, &sub.IPCIDRRange, &sub.GatewayIP, &sub.NextAvailableIP, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "subnetNotFound", "subnet not found")
		}
		return nil, err
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return sub, nil
}

// ListSubnets returns every subnet of networkID.
func (q *Queries) ListSubnets(ctx context.Context, networkID string) ([]*Subnet, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, network_id, region, ip_cidr_range, gateway_ip, next_available_ip, created_at
		FROM subnets WHERE network_id = ? ORDER BY name`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Subnet
	for rows.Next() {
		sub := &Subnet{}
		var created string
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.NetworkID, &sub.Region, &sub.IPCIDRRange, &sub.GatewayIP, &sub.NextAvailableIP, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// AllocateNextIP bumps subnetID's next_available_ip counter and returns
// the offset just consumed. Offsets are never reused, even after an
// instance holding one is deleted: simpler and race-free, at the cost
// of a subnet eventually exhausting its range under heavy churn.
func (q *Queries) AllocateNextIP(ctx context.Context, subnetID string) (int64, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT next_available_ip FROM subnets WHERE id = ?`, subnetID)
	var offset int64
	if err := row.Scan(&offset); err != nil {
		if err == sql.ErrNoRows {
			return 0, emuerr.Newf(emuerr.NotFound, "subnetNotFound", "subnet not found")
		}
		return 0, err
	}
	_, err := q.tx.ExecContext(ctx, `UPDATE subnets SET next_available_ip = next_available_ip + 1 WHERE id = ?`, subnetID)
	return offset, err
}
