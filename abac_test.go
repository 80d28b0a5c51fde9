package authkit

import (
	"context"
	"errors"
	"testing"
)

func TestAttributeMergeSemantics(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetAttributes(ctx, "alice", map[string]any{"dept": "engineering", "level": 3}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := e.SetAttributes(ctx, "alice", map[string]any{"level": 4}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	attrs, err := e.GetAttributes(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attrs["dept"] != "engineering" {
		t.Fatalf("dept = %v, merge clobbered untouched key", attrs["dept"])
	}
	if !deepEqual(attrs["level"], 4) {
		t.Fatalf("level = %v, want 4", attrs["level"])
	}
}

func TestGetAttributesUnknownPrincipal(t *testing.T) {
	e := newTestEngine(t)

	attrs, err := e.GetAttributes(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if attrs == nil || len(attrs) != 0 {
		t.Fatalf("attrs = %v, want empty bag", attrs)
	}
}

func TestExprEvaluation(t *testing.T) {
	attrs := map[string]any{
		"dept":     "engineering",
		"level":    float64(4),
		"projects": []any{"atlas", "borealis"},
		"region":   "eu-west",
	}

	cases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"equals hit", &AttrEqualsExpr{Attr: "dept", Value: "engineering"}, true},
		{"equals miss", &AttrEqualsExpr{Attr: "dept", Value: "sales"}, false},
		{"equals numeric normalization", &AttrEqualsExpr{Attr: "level", Value: 4}, true},
		{"missing attribute is false", &AttrEqualsExpr{Attr: "ghost", Value: "x"}, false},
		{"contains element", &AttrContainsExpr{Attr: "projects", Value: "atlas"}, true},
		{"contains absent element", &AttrContainsExpr{Attr: "projects", Value: "citadel"}, false},
		{"contains substring", &AttrContainsExpr{Attr: "region", Value: "west"}, true},
		{"within hit", &AttrContainedByExpr{Attr: "dept", Value: []any{"engineering", "research"}}, true},
		{"within miss", &AttrContainedByExpr{Attr: "dept", Value: []any{"sales"}}, false},
		{"and short-circuits false", &AndExpr{Exprs: []Expr{
			&AttrEqualsExpr{Attr: "dept", Value: "engineering"},
			&AttrEqualsExpr{Attr: "ghost", Value: "x"},
		}}, false},
		{"or recovers", &OrExpr{Exprs: []Expr{
			&AttrEqualsExpr{Attr: "ghost", Value: "x"},
			&AttrEqualsExpr{Attr: "dept", Value: "engineering"},
		}}, true},
	}

	for _, tc := range cases {
		if got := tc.expr.Evaluate(attrs); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPolicyAdministration(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p, err := e.CreatePolicy(ctx, "engineering-only", "", &AttrEqualsExpr{Attr: "dept", Value: "engineering"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.CreatePolicy(ctx, "engineering-only", "", &AttrEqualsExpr{Attr: "dept", Value: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate policy error = %v, want ErrConflict", err)
	}
	if _, err := e.CreatePolicy(ctx, "nil-predicate", "", nil); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nil predicate error = %v, want ErrInvalid", err)
	}

	if err := e.SetAttributes(ctx, "alice", map[string]any{"dept": "engineering"}); err != nil {
		t.Fatalf("set attrs: %v", err)
	}
	ok, err := e.EvaluatePolicy(ctx, "alice", p)
	if err != nil || !ok {
		t.Fatalf("evaluate = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = e.EvaluatePolicy(ctx, "mallory", p)
	if err != nil || ok {
		t.Fatalf("evaluate stranger = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEvaluateAllConjunction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// No policies: everything passes.
	ok, err := e.EvaluateAll(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("empty set = (%v, %v), want (true, nil)", ok, err)
	}

	if _, err := e.CreatePolicy(ctx, "needs-engineering", "", &AttrEqualsExpr{Attr: "dept", Value: "engineering"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreatePolicy(ctx, "needs-clearance", "", &AttrEqualsExpr{Attr: "cleared", Value: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := e.SetAttributes(ctx, "alice", map[string]any{"dept": "engineering"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = e.EvaluateAll(ctx, "alice")
	if err != nil || ok {
		t.Fatalf("partial attributes = (%v, %v), want (false, nil)", ok, err)
	}

	if err := e.SetAttributes(ctx, "alice", map[string]any{"cleared": true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = e.EvaluateAll(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("all attributes = (%v, %v), want (true, nil)", ok, err)
	}
}
