package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// GetIAMPolicy returns resourceName's policy. A resource with no policy
// set yet has an implicit empty policy at version 1 carrying the fixed
// implicitPolicyEtag, built on read rather than stored, matching the
// real API's behavior for never-modified resources.
func (q *Queries) GetIAMPolicy(ctx context.Context, resourceName string) (*IAMPolicy, error) {
	row := q.tx.QueryRowContext(ctx, `SELECT resource_name, version, etag, bindings_json FROM iam_policies WHERE resource_name = ?`, resourceName)
	p, err := scanIAMPolicy(row)
	if emuerr.KindOf(err) == emuerr.NotFound {
		return &IAMPolicy{ResourceName: resourceName, Version: 1, Etag: implicitPolicyEtag, Bindings: nil}, nil
	}
	return p, err
}

// implicitPolicyEtag is the etag of every never-set policy, so a
// read-modify-write of an implicit policy passes the etag check.
const implicitPolicyEtag = "BwW00000000"

func scanIAMPolicy(row *sql.Row) (*IAMPolicy, error) {
	p := &IAMPolicy{}
	var bindingsJSON string
	if err := row.Scan(&p.ResourceName, &p.Version, &p.Etag, &bindingsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "iamPolicyNotFound", "iam policy not found")
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(bindingsJSON), &p.Bindings); err != nil {
		return nil, err
	}
	return p, nil
}

// SetIAMPolicy upserts p, requiring expectedEtag to match the stored
// etag (empty expectedEtag skips the check, matching the real API's
// "no etag supplied" behavior of last-writer-wins). A mismatch
// surfaces as emuerr.Aborted. On success p's Etag is
// replaced with a freshly minted value.
func (q *Queries) SetIAMPolicy(ctx context.Context, resourceName, expectedEtag string, p *IAMPolicy) error {
	if expectedEtag != "" {
		current, err := q.GetIAMPolicy(ctx, resourceName)
		if err != nil {
			return err
		}
		if current.Etag != expectedEtag {
			return emuerr.Newf(emuerr.Aborted, "etagMismatch", "etag mismatch setting policy on %s", resourceName)
		}
		p.Version = current.Version
	}
	bindingsJSON, err := json.Marshal(p.Bindings)
	if err != nil {
		return err
	}
	p.ResourceName = resourceName
	p.Etag = newEtag()
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO iam_policies (resource_name, version, etag, bindings_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_name) DO UPDATE SET version = excluded.version, etag = excluded.etag, bindings_json = excluded.bindings_json`,
		p.ResourceName, p.Version, p.Etag, string(bindingsJSON))
	return err
}

func newEtag() string {
	return "BwW" + uuid.NewString()[:8]
}
