package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateSignedURLToken inserts a fresh token row.
func (q *Queries) CreateSignedURLToken(ctx context.Context, t *SignedURLToken) error {
	_, err := q.tx.ExecContext(ctx, `
		INSERT INTO signed_url_tokens (token, bucket, object, method, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		t.Token, t.Bucket, t.Object, t.Method, fmtTime(t.ExpiresAt))
	return err
}

// GetSignedURLToken returns the token row, or NotFound. Expiry is not
// checked here: callers compare ExpiresAt against the request time
// themselves, since a token is multi-use until it expires (a token is
// never consumed or deleted on successful access).
func (q *Queries) GetSignedURLToken(ctx context.Context, token string) (*SignedURLToken, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT token, bucket, object, method, expires_at FROM signed_url_tokens WHERE token = ?`, token)
	return scanSignedURLToken(row)
}

func scanSignedURLToken(row *sql.Row) (*SignedURLToken, error) {
	t := &SignedURLToken{}
	var expires string
	err := row.Scan(&t.Token, &t.Bucket, &t.Object, &t.Method, &expires)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "signedUrlTokenNotFound", "signed url token not found")
		}
		return nil, err
	}
	t.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
	return t, nil
}

// DeleteExpiredSignedURLTokens removes every token whose expiry is
// before asOf, reclaiming the table — called from the lifecycle
// worker's periodic sweep.
func (q *Queries) DeleteExpiredSignedURLTokens(ctx context.Context, asOf time.Time) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM signed_url_tokens WHERE expires_at < ?`, fmtTime(asOf))
	return err
}
