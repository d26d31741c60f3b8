package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLAuditStore persists audit entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *permit.AuditEntry) error {
	q := `INSERT INTO audit_log(id, trace_id, timestamp, principal_id, capability, allowed, bypassed, matched_by, reason) VALUES(:id, :trace_id, :timestamp, :principal_id, :capability, :allowed, :bypassed, :matched_by, :reason)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           entry.ID,
		"trace_id":     entry.TraceID,
		"timestamp":    entry.Timestamp.UTC(),
		"principal_id": entry.PrincipalID,
		"capability":   entry.Capability,
		"allowed":      boolToInt(entry.Allowed),
		"bypassed":     boolToInt(entry.Bypassed),
		"matched_by":   entry.MatchedBy,
		"reason":       entry.Reason,
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter permit.AuditFilter) ([]*permit.AuditEntry, error) {
	q := `SELECT id, trace_id, timestamp, principal_id, capability, allowed, bypassed, matched_by, reason FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.PrincipalID != 0 {
		q += " AND principal_id = :principal_id"
		params["principal_id"] = filter.PrincipalID
	}
	if filter.Capability != "" {
		q += " AND capability = :capability"
		params["capability"] = filter.Capability
	}
	if filter.BypassedOnly {
		q += " AND bypassed = 1"
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime.UTC()
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime.UTC()
	}
	q += " ORDER BY timestamp"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*permit.AuditEntry, 0)
	for r.Next() {
		e := &permit.AuditEntry{}
		var timestampRaw any
		var allowed, bypassed int
		if err := r.Scan(&e.ID, &e.TraceID, &timestampRaw, &e.PrincipalID, &e.Capability, &allowed, &bypassed, &e.MatchedBy, &e.Reason); err != nil {
			return nil, err
		}
		e.Timestamp = scanTime(timestampRaw)
		e.Allowed = allowed != 0
		e.Bypassed = bypassed != 0
		out = append(out, e)
	}
	return out, nil
}

var _ permit.AuditStore = (*SQLAuditStore)(nil)
