package authkit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(
		NewMemoryCredentialStore(),
		NewMemoryRoleStore(),
		NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(),
		NewMemoryPolicyStore(),
		NewMemoryAuditStore(),
		opts...,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestCredentialRoundtrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "user-1", "ci deploy key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(secret, "ak_") {
		t.Fatalf("secret %q missing scheme prefix", secret)
	}
	parts := strings.SplitN(strings.TrimPrefix(secret, "ak_"), ".", 2)
	if len(parts) != 2 || len(parts[0]) != 12 || len(parts[1]) != 43 {
		t.Fatalf("unexpected secret shape: %q", secret)
	}
	if cred.Prefix != parts[0] {
		t.Fatalf("prefix mismatch: %s vs %s", cred.Prefix, parts[0])
	}

	owner, ok := e.VerifyCredential(ctx, secret)
	if !ok || owner != "user-1" {
		t.Fatalf("verify = (%q, %v), want (user-1, true)", owner, ok)
	}
}

func TestCredentialVerifyRejectsGarbage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	secret, _, err := e.CreateCredential(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, bad := range []string{
		"",
		"ak_",
		"not-a-credential",
		secret + "x",
		secret[:len(secret)-1],
		strings.Replace(secret, "ak_", "zz_", 1),
	} {
		if _, ok := e.VerifyCredential(ctx, bad); ok {
			t.Fatalf("verify accepted %q", bad)
		}
	}
}

func TestSecretNotStoredInPlain(t *testing.T) {
	store := NewMemoryCredentialStore()
	e, err := NewEngine(store, NewMemoryRoleStore(), NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(), NewMemoryPolicyStore(), NewMemoryAuditStore())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := store.GetSecret(ctx, cred.ID)
	if err != nil || rec == nil {
		t.Fatalf("get secret: %v", err)
	}
	if rec.Hash == secret || strings.Contains(rec.Hash, secret) {
		t.Fatal("secret value stored in the clear")
	}
	if rec.Salt == "" {
		t.Fatal("secret record has no salt")
	}
}

func TestRevokeCredential(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	owner := Actor{PrincipalID: "user-1"}
	revoked, err := e.RevokeCredential(ctx, cred.ID, owner)
	if err != nil || !revoked {
		t.Fatalf("revoke = (%v, %v), want (true, nil)", revoked, err)
	}
	if _, ok := e.VerifyCredential(ctx, secret); ok {
		t.Fatal("revoked credential still verifies")
	}

	// Second revoke is a no-op, not an error.
	revoked, err = e.RevokeCredential(ctx, cred.ID, owner)
	if err != nil || revoked {
		t.Fatalf("double revoke = (%v, %v), want (false, nil)", revoked, err)
	}

	// Missing credential behaves the same.
	revoked, err = e.RevokeCredential(ctx, "no-such-id", owner)
	if err != nil || revoked {
		t.Fatalf("revoke missing = (%v, %v), want (false, nil)", revoked, err)
	}
}

func TestRevokeCredentialRequiresOwnership(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.RevokeCredential(ctx, cred.ID, Actor{PrincipalID: "user-2"}); err == nil {
		t.Fatal("expected unauthorized error")
	}
	if _, ok := e.VerifyCredential(ctx, secret); !ok {
		t.Fatal("failed revoke must not disable the credential")
	}

	// Administrative override works without ownership.
	revoked, err := e.RevokeCredential(ctx, cred.ID, Actor{PrincipalID: "ops", Admin: true})
	if err != nil || !revoked {
		t.Fatalf("admin revoke = (%v, %v), want (true, nil)", revoked, err)
	}
}

func TestRotateCredential(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	oldSecret, oldCred, err := e.CreateCredential(ctx, "user-1", "api key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newSecret, next, err := e.RotateCredential(ctx, oldCred.ID, Actor{PrincipalID: "user-1"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.ID == oldCred.ID || newSecret == oldSecret {
		t.Fatal("rotation did not mint a distinct credential")
	}
	if next.Description != "api key" {
		t.Fatalf("successor description %q, want %q", next.Description, "api key")
	}

	if _, ok := e.VerifyCredential(ctx, oldSecret); ok {
		t.Fatal("old credential still verifies after rotation")
	}
	if owner, ok := e.VerifyCredential(ctx, newSecret); !ok || owner != "user-1" {
		t.Fatalf("successor verify = (%q, %v)", owner, ok)
	}

	// A revoked credential cannot be rotated.
	if _, _, err := e.RotateCredential(ctx, oldCred.ID, Actor{PrincipalID: "user-1"}); err == nil {
		t.Fatal("rotating a revoked credential must fail")
	}
}

func TestCredentialExpiry(t *testing.T) {
	e := newTestEngine(t, WithCredentialTTL(time.Millisecond))
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cred.ExpiresAt.IsZero() {
		t.Fatal("ttl not applied")
	}

	time.Sleep(5 * time.Millisecond)
	if _, ok := e.VerifyCredential(ctx, secret); ok {
		t.Fatal("expired credential still verifies")
	}
}

func TestCredentialDescriptionValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.CreateCredential(ctx, "user-1", strings.Repeat("a", 256)); err == nil {
		t.Fatal("overlong description accepted")
	}
	if _, _, err := e.CreateCredential(ctx, "user-1", "bad\x00byte"); err == nil {
		t.Fatal("control characters accepted")
	}
	if _, _, err := e.CreateCredential(ctx, "", "fine"); err == nil {
		t.Fatal("empty owner accepted")
	}
	if _, _, err := e.CreateCredential(ctx, "user-1", "Deploy key v2 (prod)"); err == nil {
		t.Fatal("parentheses are outside the allowed charset")
	}
	if _, _, err := e.CreateCredential(ctx, "user-1", "deploy-key_v2.prod"); err != nil {
		t.Fatalf("valid description rejected: %v", err)
	}
}

func TestListCredentials(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := e.CreateCredential(ctx, "user-1", ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := e.CreateCredential(ctx, "user-2", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	creds, err := e.ListCredentials(ctx, "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 3 {
		t.Fatalf("got %d credentials, want 3", len(creds))
	}
}
