package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/authkit/utils"
)

// ============================================================================
// ABAC: ATTRIBUTE BAGS & POLICY EVALUATION
// ============================================================================

// Policy is a named boolean predicate over a principal's attribute bag.
type Policy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Predicate   Expr      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Expr is a policy predicate node. Evaluate never errors on a missing
// attribute; absence simply makes the comparison false.
type Expr interface {
	Evaluate(attrs map[string]any) bool
	String() string
}

// AttrEqualsExpr is true iff the attribute is set and deep-equals Value.
type AttrEqualsExpr struct {
	Attr  string
	Value any
}

func (e *AttrEqualsExpr) Evaluate(attrs map[string]any) bool {
	v, ok := attrs[e.Attr]
	if !ok {
		return false
	}
	return deepEqual(v, e.Value)
}

func (e *AttrEqualsExpr) String() string {
	return fmt.Sprintf("%s == %s", e.Attr, encodeValue(e.Value))
}

// AttrContainsExpr is true iff the attribute, read as a collection,
// contains Value. Arrays contain elements; strings contain substrings.
type AttrContainsExpr struct {
	Attr  string
	Value any
}

func (e *AttrContainsExpr) Evaluate(attrs map[string]any) bool {
	v, ok := attrs[e.Attr]
	if !ok {
		return false
	}
	return contains(v, e.Value)
}

func (e *AttrContainsExpr) String() string {
	return fmt.Sprintf("%s contains %s", e.Attr, encodeValue(e.Value))
}

// AttrContainedByExpr is the inverse containment: the attribute value must
// be contained by Value.
type AttrContainedByExpr struct {
	Attr  string
	Value any
}

func (e *AttrContainedByExpr) Evaluate(attrs map[string]any) bool {
	v, ok := attrs[e.Attr]
	if !ok {
		return false
	}
	return contains(e.Value, v)
}

func (e *AttrContainedByExpr) String() string {
	return fmt.Sprintf("%s within %s", e.Attr, encodeValue(e.Value))
}

// AndExpr is a short-circuit conjunction over its children.
type AndExpr struct {
	Exprs []Expr
}

func (e *AndExpr) Evaluate(attrs map[string]any) bool {
	for _, sub := range e.Exprs {
		if !sub.Evaluate(attrs) {
			return false
		}
	}
	return true
}

func (e *AndExpr) String() string {
	parts := make([]string, len(e.Exprs))
	for i, sub := range e.Exprs {
		parts[i] = sub.String()
	}
	return strings.Join(parts, " && ")
}

// OrExpr is a short-circuit disjunction over its children.
type OrExpr struct {
	Exprs []Expr
}

func (e *OrExpr) Evaluate(attrs map[string]any) bool {
	for _, sub := range e.Exprs {
		if sub.Evaluate(attrs) {
			return true
		}
	}
	return false
}

func (e *OrExpr) String() string {
	parts := make([]string, len(e.Exprs))
	for i, sub := range e.Exprs {
		parts[i] = sub.String()
	}
	return strings.Join(parts, " || ")
}

// value comparison helpers

// deepEqual compares two attribute values after normalizing numbers to
// float64, since attribute bags round-trip through JSON.
func deepEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return string(n)
		}
		return f
	case []any:
		out := make([]any, len(n))
		for i := range n {
			out[i] = normalize(n[i])
		}
		return out
	case []string:
		out := make([]any, len(n))
		for i := range n {
			out[i] = n[i]
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func contains(collection, item any) bool {
	switch c := normalize(collection).(type) {
	case []any:
		for _, el := range c {
			if deepEqual(el, item) {
				return true
			}
		}
		return false
	case string:
		s, ok := normalize(item).(string)
		return ok && strings.Contains(c, s)
	default:
		return false
	}
}

func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// attribute administration

// SetAttribute merges a single key into the principal's attribute bag.
func (e *Engine) SetAttribute(ctx context.Context, principalID, key string, value any) error {
	return e.SetAttributes(ctx, principalID, map[string]any{key: value})
}

// SetAttributes merges keys into the attribute bag: new keys are added,
// existing keys overwritten, absent keys untouched.
func (e *Engine) SetAttributes(ctx context.Context, principalID string, attrs map[string]any) error {
	if principalID == "" {
		return fmt.Errorf("principal is required: %w", ErrInvalid)
	}
	if err := e.attributes.SetAttributes(ctx, principalID, attrs); err != nil {
		return fmt.Errorf("set attributes: %w", err)
	}
	return nil
}

// GetAttributes returns the principal's attribute bag; empty bag when the
// principal has none.
func (e *Engine) GetAttributes(ctx context.Context, principalID string) (map[string]any, error) {
	attrs, err := e.attributes.GetAttributes(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("get attributes: %w", err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

// policy administration

func (e *Engine) CreatePolicy(ctx context.Context, name, description string, predicate Expr) (*Policy, error) {
	if !utils.ValidName(name) {
		return nil, fmt.Errorf("policy name %q: %w", name, ErrInvalid)
	}
	if predicate == nil {
		return nil, fmt.Errorf("policy predicate is required: %w", ErrInvalid)
	}
	if existing, _ := e.policies.GetPolicyByName(ctx, name); existing != nil {
		return nil, fmt.Errorf("policy %q: %w", name, ErrConflict)
	}
	now := time.Now()
	p := &Policy{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Predicate:   predicate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.policies.CreatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	e.logger.Info("policy created", "policy", p.ID, "name", name)
	return p, nil
}

func (e *Engine) UpdatePolicy(ctx context.Context, p *Policy) error {
	if p.Predicate == nil {
		return fmt.Errorf("policy predicate is required: %w", ErrInvalid)
	}
	p.UpdatedAt = time.Now()
	if err := e.policies.UpdatePolicy(ctx, p); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

func (e *Engine) DeletePolicy(ctx context.Context, id string) error {
	if err := e.policies.DeletePolicy(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

// evaluation

// EvaluatePolicy runs one policy predicate against the principal's
// attribute bag.
func (e *Engine) EvaluatePolicy(ctx context.Context, principalID string, p *Policy) (bool, error) {
	attrs, err := e.GetAttributes(ctx, principalID)
	if err != nil {
		return false, err
	}
	return p.Predicate.Evaluate(attrs), nil
}

// EvaluateAll is the conjunctive gate: true iff every stored policy is true
// for the principal. An empty policy set passes.
func (e *Engine) EvaluateAll(ctx context.Context, principalID string) (bool, error) {
	policies, err := e.policies.ListPolicies(ctx)
	if err != nil {
		return false, fmt.Errorf("list policies: %w", err)
	}
	if len(policies) == 0 {
		return true, nil
	}
	attrs, err := e.GetAttributes(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, p := range policies {
		if p.Predicate == nil || !p.Predicate.Evaluate(attrs) {
			return false, nil
		}
	}
	return true, nil
}
