package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authkit"
)

// SQLPolicyStore persists policies with their predicates in textual form;
// Expr.String output parses back through ParsePredicate on read.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *authkit.Policy) error {
	q := `INSERT INTO policies(id, name, description, predicate_text, created_at, updated_at)
	      VALUES(:id, :name, :description, :predicate_text, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"description":    p.Description,
		"predicate_text": p.Predicate.String(),
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *authkit.Policy) error {
	q := `UPDATE policies SET name = :name, description = :description, predicate_text = :predicate_text, updated_at = :updated_at WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"description":    p.Description,
		"predicate_text": p.Predicate.String(),
		"updated_at":     p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLPolicyStore) scanPolicy(r rowScanner) (*authkit.Policy, error) {
	p := &authkit.Policy{}
	var predicateText string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &predicateText, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	expr, err := authkit.ParsePredicate(predicateText)
	if err != nil {
		return nil, fmt.Errorf("policy %s has unreadable predicate: %w", p.ID, err)
	}
	p.Predicate = expr
	p.CreatedAt = scanTime(createdRaw)
	p.UpdatedAt = scanTime(updatedRaw)
	return p, nil
}

const policyColumns = `id, name, description, predicate_text, created_at, updated_at`

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*authkit.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy %s: %w", id, authkit.ErrNotFound)
	}
	return s.scanPolicy(r)
}

func (s *SQLPolicyStore) GetPolicyByName(ctx context.Context, name string) (*authkit.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy %q: %w", name, authkit.ErrNotFound)
	}
	return s.scanPolicy(r)
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context) ([]*authkit.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM policies ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Policy, 0)
	for r.Next() {
		p, err := s.scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
