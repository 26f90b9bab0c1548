package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateServiceAccount inserts sa. Email collisions surface as
// emuerr.AlreadyExists.
func (q *Queries) CreateServiceAccount(ctx context.Context, sa *ServiceAccount) error {
	sa.CreatedAt = q.now()
	sa.UniqueID = NewID()
	sa.OAuth2ClientID = syntheticOAuth2ClientID(sa.Email)
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO service_accounts (email, project_id, display_name, description, unique_id, oauth2_client_id, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sa.Email, sa.ProjectID, sa.DisplayName, sa.Description, sa.UniqueID, sa.OAuth2ClientID,
		boolToInt(sa.Disabled), fmtTime(sa.CreatedAt))
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "serviceAccountCreateFailed", "cannot create service account "+sa.Email)
	}
	return nil
}

// GetServiceAccount returns the account named email, or NotFound.
func (q *Queries) GetServiceAccount(ctx context.Context, email string) (*ServiceAccount, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT email, project_id, display_name, description, unique_id, oauth2_client_id, disabled, created_at
		FROM service_accounts WHERE email = ?`, email)
	return scanServiceAccount(row)
}

func scanServiceAccount(row *sql.Row) (*ServiceAccount, error) {
	sa := &ServiceAccount{}
	var disabled int
	var created string
	err := row.Scan(&sa.Email, &sa.ProjectID, &sa.DisplayName, &sa.Description, &sa.UniqueID, &sa.OAuth2ClientID, &disabled, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "serviceAccountNotFound", "service account not found")
		}
		return nil, err
	}
	sa.Disabled = disabled != 0
	sa.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return sa, nil
}

// ListServiceAccounts returns every account belonging to projectID.
func (q *Queries) ListServiceAccounts(ctx context.Context, projectID string) ([]*ServiceAccount, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT email, project_id, display_name, description, unique_id, oauth2_client_id, disabled, created_at
		FROM service_accounts WHERE project_id = ? ORDER BY email`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ServiceAccount
	for rows.Next() {
		sa := &ServiceAccount{}
		var disabled int
		var created string
		if err := rows.Scan(&sa.Email, &sa.ProjectID, &sa.DisplayName, &sa.Description, &sa.UniqueID, &sa.OAuth2ClientID, &disabled, &created); err != nil {
			return nil, err
		}
		sa.Disabled = disabled != 0
		sa.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sa)
	}
	return out, rows.Err()
}

// UpdateServiceAccount persists sa's mutable fields (display name,
// description, disabled).
func (q *Queries) UpdateServiceAccount(ctx context.Context, sa *ServiceAccount) error {
	_, err := q.tx.ExecContext(ctx, `
		UPDATE service_accounts SET display_name = ?, description = ?, disabled = ? WHERE email = ?`,
		sa.DisplayName, sa.Description, boolToInt(sa.Disabled), sa.Email)
	return err
}

// DeleteServiceAccount removes sa and cascades to its keys.
func (q *Queries) DeleteServiceAccount(ctx context.Context, email string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM service_accounts WHERE email = ?`, email)
	return err
}

func syntheticOAuth2ClientID(email string) string {
	var h int64 = -3750763034362895579 // FNV-1a offset basis 14695981039346656037 as two's-complement int64
	for _, b := range []byte(email) {
		h ^= int64(b)
		h *= 1099511628211
		if h < 0 {
			h = -h
		}
	}
	return "1" + strconv.FormatInt(100000000000000000+(h%800000000000000000), 10)
}
