package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authkit"
)

// SQLAuditStore persists audit events in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) RecordEvent(ctx context.Context, e *authkit.Event) error {
	detail, _ := json.Marshal(e.Detail)
	q := `INSERT INTO audit_events(id, timestamp, kind, principal_id, credential_id, trace_id, detail_json)
	      VALUES(:id, :timestamp, :kind, :principal_id, :credential_id, :trace_id, :detail_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp,
		"kind":          e.Kind,
		"principal_id":  e.PrincipalID,
		"credential_id": e.CredentialID,
		"trace_id":      e.TraceID,
		"detail_json":   string(detail),
	})
	return err
}

func (s *SQLAuditStore) ListEvents(ctx context.Context, filter authkit.EventFilter) ([]*authkit.Event, error) {
	q := `SELECT id, timestamp, kind, principal_id, credential_id, trace_id, detail_json FROM audit_events WHERE 1=1`
	params := map[string]any{}
	if filter.PrincipalID != "" {
		q += ` AND principal_id = :principal_id`
		params["principal_id"] = filter.PrincipalID
	}
	if filter.CredentialID != "" {
		q += ` AND credential_id = :credential_id`
		params["credential_id"] = filter.CredentialID
	}
	if filter.Kind != "" {
		q += ` AND kind = :kind`
		params["kind"] = filter.Kind
	}
	if !filter.StartTime.IsZero() {
		q += ` AND timestamp >= :start_time`
		params["start_time"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += ` AND timestamp <= :end_time`
		params["end_time"] = filter.EndTime
	}
	q += ` ORDER BY timestamp`
	if filter.Limit > 0 {
		q += ` LIMIT :limit`
		params["limit"] = filter.Limit
	}

	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Event, 0)
	for r.Next() {
		e := &authkit.Event{}
		var tsRaw interface{}
		var detailJSON string
		if err := r.Scan(&e.ID, &tsRaw, &e.Kind, &e.PrincipalID, &e.CredentialID, &e.TraceID, &detailJSON); err != nil {
			return nil, err
		}
		e.Timestamp = scanTime(tsRaw)
		if detailJSON != "" && detailJSON != "null" {
			_ = json.Unmarshal([]byte(detailJSON), &e.Detail)
		}
		out = append(out, e)
	}
	return out, nil
}
