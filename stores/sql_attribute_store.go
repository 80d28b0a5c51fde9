package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"
)

// SQLAttributeStore persists attribute bags one row per key, JSON-encoded
// values. Merging is an upsert per key, so untouched keys keep their rows.
type SQLAttributeStore struct {
	db *squealx.DB
}

func NewSQLAttributeStore(db *squealx.DB) *SQLAttributeStore {
	return &SQLAttributeStore{db: db}
}

func (s *SQLAttributeStore) SetAttributes(ctx context.Context, principalID string, attrs map[string]any) error {
	q := `INSERT INTO principal_attributes(principal_id, attr_key, value_json)
	      VALUES(:principal_id, :attr_key, :value_json)
	      ON CONFLICT(principal_id, attr_key) DO UPDATE SET value_json = :value_json`
	for key, value := range attrs {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode attribute %q: %w", key, err)
		}
		_, err = s.db.NamedExecContext(ctx, q, map[string]any{
			"principal_id": principalID,
			"attr_key":     key,
			"value_json":   string(data),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLAttributeStore) GetAttributes(ctx context.Context, principalID string) (map[string]any, error) {
	q := `SELECT attr_key, value_json FROM principal_attributes WHERE principal_id = :principal_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal_id": principalID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make(map[string]any)
	for r.Next() {
		var key, valueJSON string
		if err := r.Scan(&key, &valueJSON); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func (s *SQLAttributeStore) DeleteAttribute(ctx context.Context, principalID, key string) error {
	q := `DELETE FROM principal_attributes WHERE principal_id = :principal_id AND attr_key = :attr_key`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal_id": principalID, "attr_key": key})
	return err
}
