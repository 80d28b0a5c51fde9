package authkit

import (
	"context"
	"testing"
	"time"
)

// seedResolver gives alice the viewer role so resolved contexts carry
// documents.read.
func seedResolver(t *testing.T, e *Engine) (secret string) {
	t.Helper()
	ctx := context.Background()
	seedGraph(t, e)
	if err := e.AssignRole(ctx, "alice", "engineering", "viewer"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	secret, _, err := e.CreateCredential(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return secret
}

func TestResolvePriorityOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := seedResolver(t, e)
	if err := e.AssignRole(ctx, "victim", "engineering", "admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Impersonation outranks both credential and session.
	authCtx, err := e.ResolveContext(ctx, ResolveRequest{
		Impersonation:      &Impersonation{PrincipalID: "victim", ExpiresAt: time.Now().Add(time.Minute)},
		Credential:         secret,
		SessionPrincipalID: "alice",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "victim" || authCtx.Scope != ScopeImpersonation {
		t.Fatalf("got (%s, %s), want (victim, impersonation)", authCtx.PrincipalID, authCtx.Scope)
	}

	// Credential outranks session.
	authCtx, err = e.ResolveContext(ctx, ResolveRequest{Credential: secret})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "alice" || authCtx.Scope != ScopeCredential {
		t.Fatalf("got (%s, %s), want (alice, credential)", authCtx.PrincipalID, authCtx.Scope)
	}

	// Session alone.
	authCtx, err = e.ResolveContext(ctx, ResolveRequest{SessionPrincipalID: "alice"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "alice" || authCtx.Scope != ScopeSession {
		t.Fatalf("got (%s, %s), want (alice, session)", authCtx.PrincipalID, authCtx.Scope)
	}
}

func TestResolveExpiredImpersonationFallsThrough(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedResolver(t, e)

	authCtx, err := e.ResolveContext(ctx, ResolveRequest{
		Impersonation:      &Impersonation{PrincipalID: "victim", ExpiresAt: time.Now().Add(-time.Minute)},
		SessionPrincipalID: "alice",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "alice" || authCtx.Scope != ScopeSession {
		t.Fatalf("expired impersonation resolved to (%s, %s)", authCtx.PrincipalID, authCtx.Scope)
	}
}

func TestResolveAnonymous(t *testing.T) {
	e := newTestEngine(t)

	authCtx, err := e.ResolveContext(context.Background(), ResolveRequest{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !authCtx.Anonymous() || authCtx.Scope != ScopeAnonymous {
		t.Fatalf("got (%s, %s), want anonymous", authCtx.PrincipalID, authCtx.Scope)
	}
	if authCtx.HasPermission("documents.read") {
		t.Fatal("anonymous context must hold no permissions")
	}
}

func TestResolveRejectsForeignCredential(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := seedResolver(t, e)

	// alice's credential under bob's session must not resolve as alice.
	authCtx, err := e.ResolveContext(ctx, ResolveRequest{
		Credential:         secret,
		SessionPrincipalID: "bob",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "bob" || authCtx.Scope != ScopeSession {
		t.Fatalf("got (%s, %s), want fallthrough to (bob, session)", authCtx.PrincipalID, authCtx.Scope)
	}
}

func TestAuthorizePerRow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	secret := seedResolver(t, e)

	authCtx, err := e.ResolveContext(ctx, ResolveRequest{Credential: secret})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if !e.Authorize(ctx, authCtx, "documents.read") {
		t.Fatal("viewer denied documents.read")
	}
	if e.Authorize(ctx, authCtx, "documents.delete") {
		t.Fatal("viewer granted documents.delete")
	}
	if e.Authorize(ctx, nil, "documents.read") {
		t.Fatal("nil context authorized")
	}
}

func TestPolicyGateEmptiesPermissions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	seedResolver(t, e)

	if _, err := e.CreatePolicy(ctx, "cleared-only", "", &AttrEqualsExpr{Attr: "cleared", Value: true}); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	// alice has the role but fails the gate: identity survives, permissions
	// do not.
	authCtx, err := e.ResolveContext(ctx, ResolveRequest{SessionPrincipalID: "alice"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if authCtx.PrincipalID != "alice" {
		t.Fatalf("principal = %s, want alice", authCtx.PrincipalID)
	}
	if len(authCtx.Permissions) != 0 || authCtx.HasPermission("documents.read") {
		t.Fatal("gated principal still holds permissions")
	}

	if err := e.SetAttributes(ctx, "alice", map[string]any{"cleared": true}); err != nil {
		t.Fatalf("set attrs: %v", err)
	}
	authCtx, err = e.ResolveContext(ctx, ResolveRequest{SessionPrincipalID: "alice"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !authCtx.HasPermission("documents.read") {
		t.Fatal("cleared principal missing permissions")
	}
}
