package store

import (
	"context"
	"database/sql"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateRoute inserts r. Used both for user-requested routes and the
// implicit default route a network gets at creation.
func (q *Queries) CreateRoute(ctx context.Context, r *Route) error {
	r.ID = NewID()
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO routes (id, name, network_id, dest_range, priority, next_hop_gateway, next_hop_ip, next_hop_instance, next_hop_network, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.NetworkID, r.DestRange, r.Priority, r.NextHopGateway, r.NextHopIP, r.NextHopInstance, r.NextHopNetwork, r.Description)
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "routeCreateFailed", "cannot create route "+r.Name)
	}
	return nil
}

// GetRouteByName returns route name, or NotFound.
func (q *Queries) GetRouteByName(ctx context.Context, name string) (*Route, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, network_id, dest_range, priority, next_hop_gateway, next_hop_ip, next_hop_instance, next_hop_network, description
		FROM routes WHERE name = ?`, name)
	return scanRoute(row)
}

func scanRoute(row *sql.Row) (*Route, error) {
	r := &Route{}
	err := row.Scan(&r.ID, &r.Name, &r.NetworkID, &r.DestRange, &r.Priority, &r.NextHopGateway, &r.NextHopIP, &r.NextHopInstance, &r.NextHopNetwork, &r.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "routeNotFound", "route not found")
		}
		return nil, err
	}
	return r, nil
}

// ListRoutes returns every route attached to networkID.
func (q *Queries) ListRoutes(ctx context.Context, networkID string) ([]*Route, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, network_id, dest_range, priority, next_hop_gateway, next_hop_ip, next_hop_instance, next_hop_network, description
		FROM routes WHERE network_id = ? ORDER BY priority`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Route
	for rows.Next() {
		r := &Route{}
		if err := rows.Scan(&r.ID, &r.Name, &r.NetworkID, &r.DestRange, &r.Priority, &r.NextHopGateway, &r.NextHopIP, &r.NextHopInstance, &r.NextHopNetwork, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRoute removes route name.
func (q *Queries) DeleteRoute(ctx context.Context, name string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM routes WHERE name = ?`, name)
	return err
}
