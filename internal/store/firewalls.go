package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// CreateFirewallRule inserts fw. Name is unique process-wide.
func (q *Queries) CreateFirewallRule(ctx context.Context, fw *FirewallRule) error {
	fw.ID = NewID()
	fw.CreatedAt = q.now()
	sourceRanges, err := json.Marshal(fw.SourceRanges)
	if err != nil {
		return err
	}
	destRanges, err := json.Marshal(fw.DestinationRanges)
	if err != nil {
		return err
	}
	sourceTags, err := json.Marshal(fw.SourceTags)
	if err != nil {
		return err
	}
	targetTags, err := json.Marshal(fw.TargetTags)
	if err != nil {
		return err
	}
	allowed, err := json.Marshal(fw.Allowed)
	if err != nil {
		return err
	}
	denied, err := json.Marshal(fw.Denied)
	if err != nil {
		return err
	}
	_, err = q.tx.ExecContext(ctx, `
		INSERT INTO firewall_rules (id, name, network_id, direction, priority, source_ranges_json, destination_ranges_json,
			source_tags_json, target_tags_json, allowed_json, denied_json, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fw.ID, fw.Name, fw.NetworkID, string(fw.Direction), fw.Priority, string(sourceRanges), string(destRanges),
		string(sourceTags), string(targetTags), string(allowed), string(denied), boolToInt(fw.Disabled), fmtTime(fw.CreatedAt))
	if err != nil {
		return emuerr.Wrap(err, emuerr.ClassifySQLite(err), "firewallRuleCreateFailed", "cannot create firewall rule "+fw.Name)
	}
	return nil
}

// GetFirewallRuleByName returns the rule named name, or NotFound.
func (q *Queries) GetFirewallRuleByName(ctx context.Context, name string) (*FirewallRule, error) {
	row := q.tx.QueryRowContext(ctx, `
		SELECT id, name, network_id, direction, priority, source_ranges_json, destination_ranges_json,
			source_tags_json, target_tags_json, allowed_json, denied_json, disabled, created_at
		FROM firewall_rules WHERE name = ?`, name)
	return scanFirewallRule(row)
}

func scanFirewallRule(row *sql.Row) (*FirewallRule, error) {
	fw := &FirewallRule{}
	var sourceRanges, destRanges, sourceTags, targetTags, allowed, denied string
	var disabled int
	var created string
	err := row.Scan(&fw.ID, &fw.Name, &fw.NetworkID, &fw.Direction, &fw.Priority, &sourceRanges, &destRanges,
		&sourceTags, &targetTags, &allowed, &denied, &disabled, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, emuerr.Newf(emuerr.NotFound, "firewallRuleNotFound", "firewall rule not found")
		}
		return nil, err
	}
	if err := unmarshalAll(
		jsonField{sourceRanges, &fw.SourceRanges},
		jsonField{destRanges, &fw.DestinationRanges},
		jsonField{sourceTags, &fw.SourceTags},
		jsonField{targetTags, &fw.TargetTags},
		jsonField{allowed, &fw.Allowed},
		jsonField{denied, &fw.Denied},
	); err != nil {
		return nil, err
	}
	fw.Disabled = disabled != 0
	fw.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return fw, nil
}

type jsonField struct {
	raw string
	out interface{}
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.raw), f.out); err != nil {
			return err
		}
	}
	return nil
}

// ListFirewallRules returns every rule attached to networkID.
func (q *Queries) ListFirewallRules(ctx context.Context, networkID string) ([]*FirewallRule, error) {
	rows, err := q.tx.QueryContext(ctx, `
		SELECT id, name, network_id, direction, priority, source_ranges_json, destination_ranges_json,
			source_tags_json, target_tags_json, allowed_json, denied_json, disabled, created_at
		FROM firewall_rules WHERE network_id = ? ORDER BY priority`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*FirewallRule
	for rows.Next() {
		fw := &FirewallRule{}
		var sourceRanges, destRanges, sourceTags, targetTags, allowed, denied string
		var disabled int
		var created string
		if err := rows.Scan(&fw.ID, &fw.Name, &fw.NetworkID, &fw.Direction, &fw.Priority, &sourceRanges, &destRanges,
			&sourceTags, &targetTags, &allowed, &denied, &disabled, &created); err != nil {
			return nil, err
		}
		if err := unmarshalAll(
			jsonField{sourceRanges, &fw.SourceRanges},
			jsonField{destRanges, &fw.DestinationRanges},
			jsonField{sourceTags, &fw.SourceTags},
			jsonField{targetTags, &fw.TargetTags},
			jsonField{allowed, &fw.Allowed},
			jsonField{denied, &fw.Denied},
		); err != nil {
			return nil, err
		}
		fw.Disabled = disabled != 0
		fw.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, fw)
	}
	return out, rows.Err()
}

// DeleteFirewallRule removes rule name.
func (q *Queries) DeleteFirewallRule(ctx context.Context, name string) error {
	_, err := q.tx.ExecContext(ctx, `DELETE FROM firewall_rules WHERE name = ?`, name)
	return err
}
