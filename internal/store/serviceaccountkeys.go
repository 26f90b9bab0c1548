package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateServiceAccountKey inserts k, assigning it an id.
func (q *Queries) CreateServiceAccountKey(ctx context.Context, k *ServiceAccountKey) error {
	k.ID = NewID()
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO service_account_keys (id, service_account_email, algorithm, private_key_data, valid_after, valid_before)
		VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID, k.ServiceAccountEmail, k.Algorithm, k.PrivateKeyData, fmtTime(k.ValidAfter), fmtTime(k.ValidBefore))
	return err
}

// GetServiceAccountKey returns key id belonging to email, or NotFound.
func (q *Queries) GetServiceAccountKey(ctx context.Context, email, id string) (*ServiceAccountKey, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, service_account_email, algorithm, private_key_data, valid_after, valid_before
		FROM service_account_keys WHERE service_account_email = ? AND id = ?`, email, id)
	return scanServiceAccountKey(row)
}

func scanServiceAccountKey(row *sql.Row) (*ServiceAccountKey, error) {
	k := &ServiceAccountKey{}
	var after, before string
	err := row.Scan(&k.ID, &k.ServiceAccountEmail, &k.Algorithm, &k.PrivateKeyData, &after, &before)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "serviceAccountKeyNotFound", "service account key not found")
		}
		return nil, err
	}
	k.ValidAfter, _ = time.Parse(time.RFC3339Nano, after)
	k.ValidBefore, _ = time.Parse(time.RFC3339Nano, before)
	return k, nil
}

// ListServiceAccountKeys returns every key belonging to email.
func (q *Queries) ListServiceAccountKeys(ctx context.Context, email string) ([]*ServiceAccountKey, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, service_account_email, algorithm, private_key_data, valid_after, valid_before
		FROM service_account_keys WHERE service_account_email = ? ORDER BY valid_after`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ServiceAccountKey
	for rows.Next() {
		k := &ServiceAccountKey{}
		var after, before string
		if err := rows.Scan(&k.ID, &k.ServiceAccountEmail, &k.Algorithm, &k.PrivateKeyData, &after, &before); err != nil {
			return nil, err
		}
		k.ValidAfter, _ = time.Parse(time.RFC3339Nano, after)
		k.ValidBefore, _ = time.Parse(time.RFC3339Nano, before)
		out = append(out, k)
	}
	return out, rows.Err()
}

// DeleteServiceAccountKey removes key id.
func (q *Queries) DeleteServiceAccountKey(ctx context.Context, email, id string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM service_account_keys WHERE service_account_email = ? AND id = ?`, email, id)
	return err
}
