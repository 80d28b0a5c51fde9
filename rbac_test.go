package authkit

import (
	"context"
	"errors"
	"testing"
)

// seedGraph builds engineering/{viewer <- editor <- admin} with one
// permission per level.
func seedGraph(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()

	group, err := e.CreateGroup(ctx, "engineering", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for _, name := range []string{"documents.read", "documents.write", "documents.delete"} {
		if _, err := e.CreatePermission(ctx, name, ""); err != nil {
			t.Fatalf("create permission %s: %v", name, err)
		}
	}

	viewer, err := e.CreateRole(ctx, group.ID, "viewer", "")
	if err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	editor, err := e.CreateRole(ctx, group.ID, "editor", "")
	if err != nil {
		t.Fatalf("create editor: %v", err)
	}
	admin, err := e.CreateRole(ctx, group.ID, "admin", "")
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	if err := e.SetParentRole(ctx, editor.ID, viewer.ID); err != nil {
		t.Fatalf("parent editor: %v", err)
	}
	if err := e.SetParentRole(ctx, admin.ID, editor.ID); err != nil {
		t.Fatalf("parent admin: %v", err)
	}

	if err := e.GrantPermission(ctx, viewer.ID, "documents.read"); err != nil {
		t.Fatalf("grant read: %v", err)
	}
	if err := e.GrantPermission(ctx, editor.ID, "documents.write"); err != nil {
		t.Fatalf("grant write: %v", err)
	}
	if err := e.GrantPermission(ctx, admin.ID, "documents.delete"); err != nil {
		t.Fatalf("grant delete: %v", err)
	}
}

func TestPermissionClosureThroughInheritance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	if err := e.AssignRole(ctx, "alice", "engineering", "editor"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	set, err := e.ResolvePermissions(ctx, "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"documents.read", "documents.write"} {
		if _, ok := set[want]; !ok {
			t.Fatalf("closure missing %s", want)
		}
	}
	if _, ok := set["documents.delete"]; ok {
		t.Fatal("editor must not inherit from child role admin")
	}
}

func TestCycleRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	group, _ := e.roles.GetGroupByName(ctx, "engineering")
	viewer, _ := e.roles.GetRoleByName(ctx, group.ID, "viewer")
	admin, _ := e.roles.GetRoleByName(ctx, group.ID, "admin")

	// viewer <- editor <- admin already holds; closing the loop must fail.
	err := e.SetParentRole(ctx, viewer.ID, admin.ID)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("cycle error = %v, want ErrInvalid", err)
	}
	// Self-parenting is the trivial cycle.
	if err := e.SetParentRole(ctx, viewer.ID, viewer.ID); !errors.Is(err, ErrInvalid) {
		t.Fatalf("self-parent error = %v, want ErrInvalid", err)
	}
}

func TestParentMustShareGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	other, err := e.CreateGroup(ctx, "support", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	outsider, err := e.CreateRole(ctx, other.ID, "agent", "")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	group, _ := e.roles.GetGroupByName(ctx, "engineering")
	viewer, _ := e.roles.GetRoleByName(ctx, group.ID, "viewer")
	if err := e.SetParentRole(ctx, outsider.ID, viewer.ID); !errors.Is(err, ErrInvalid) {
		t.Fatalf("cross-group parent error = %v, want ErrInvalid", err)
	}
}

func TestClaimsFreshAfterAssignAndRevoke(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	if err := e.AssignRole(ctx, "bob", "engineering", "viewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	claims, err := e.ClaimsFor(ctx, "bob")
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	group, _ := e.roles.GetGroupByName(ctx, "engineering")
	if got := claims[group.ID]; len(got) != 1 || got[0] != "viewer" {
		t.Fatalf("claims = %v, want [viewer]", got)
	}

	if err := e.RevokeRole(ctx, "bob", "engineering", "viewer"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	claims, err = e.ClaimsFor(ctx, "bob")
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if len(claims[group.ID]) != 0 {
		t.Fatalf("claims after revoke = %v, want empty", claims[group.ID])
	}
}

func TestClosureInvalidatedOnGrantChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	if err := e.AssignRole(ctx, "carol", "engineering", "viewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	set, err := e.ResolvePermissions(ctx, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := set["documents.write"]; ok {
		t.Fatal("viewer should not hold documents.write yet")
	}

	group, _ := e.roles.GetGroupByName(ctx, "engineering")
	viewer, _ := e.roles.GetRoleByName(ctx, group.ID, "viewer")
	if err := e.GrantPermission(ctx, viewer.ID, "documents.write"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	set, err = e.ResolvePermissions(ctx, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := set["documents.write"]; !ok {
		t.Fatal("new grant not visible; stale closure served")
	}

	if err := e.RevokePermission(ctx, viewer.ID, "documents.write"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	set, err = e.ResolvePermissions(ctx, "carol")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := set["documents.write"]; ok {
		t.Fatal("revoked grant still visible")
	}
}

func TestDuplicateNamesRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedGraph(t, e)

	if _, err := e.CreateGroup(ctx, "engineering", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate group error = %v, want ErrConflict", err)
	}
	group, _ := e.roles.GetGroupByName(ctx, "engineering")
	if _, err := e.CreateRole(ctx, group.ID, "viewer", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate role error = %v, want ErrConflict", err)
	}
	if _, err := e.CreatePermission(ctx, "documents.read", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate permission error = %v, want ErrConflict", err)
	}
}

func TestNameValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, bad := range []string{"", "Has Space", "UPPER", ".leading", "a\tb"} {
		if _, err := e.CreateGroup(ctx, bad, ""); !errors.Is(err, ErrInvalid) {
			t.Fatalf("group name %q accepted", bad)
		}
	}
	if _, err := e.CreateGroup(ctx, "org.unit-1", ""); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}
