package authkit

import (
	"context"
	"testing"
	"time"
)

// Walks a credential through its whole life: mint, verify, rotate, verify
// both generations, revoke the successor.
func TestCredentialLifecycleScenario(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s1, c1, err := e.CreateCredential(ctx, "svc-deploy", "svc-key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if owner, ok := e.VerifyCredential(ctx, s1); !ok || owner != "svc-deploy" {
		t.Fatalf("verify s1 = (%q, %v)", owner, ok)
	}

	s2, c2, err := e.RotateCredential(ctx, c1.ID, Actor{PrincipalID: "svc-deploy"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, ok := e.VerifyCredential(ctx, s1); ok {
		t.Fatal("s1 verifies after rotation")
	}
	if owner, ok := e.VerifyCredential(ctx, s2); !ok || owner != "svc-deploy" {
		t.Fatalf("verify s2 = (%q, %v)", owner, ok)
	}

	revoked, err := e.RevokeCredential(ctx, c2.ID, Actor{PrincipalID: "svc-deploy"})
	if err != nil || !revoked {
		t.Fatalf("revoke = (%v, %v)", revoked, err)
	}
	if _, ok := e.VerifyCredential(ctx, s2); ok {
		t.Fatal("s2 verifies after revocation")
	}
}

func TestAuditEventsRecorded(t *testing.T) {
	audit := NewMemoryAuditStore()
	e, err := NewEngine(
		NewMemoryCredentialStore(),
		NewMemoryRoleStore(),
		NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(),
		NewMemoryPolicyStore(),
		audit,
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	_, cred, err := e.CreateCredential(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.RevokeCredential(ctx, cred.ID, Actor{PrincipalID: "alice"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Events flow through the background worker; poll until they land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := audit.ListEvents(ctx, EventFilter{PrincipalID: "alice"})
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) >= 2 {
			kinds := map[string]bool{}
			for _, evt := range events {
				kinds[evt.Kind] = true
				if evt.TraceID == "" {
					t.Fatalf("event %s missing trace id", evt.ID)
				}
			}
			if !kinds[EventCredentialCreated] || !kinds[EventCredentialRevoked] {
				t.Fatalf("event kinds = %v", kinds)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit events not recorded, have %d", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLastUsedCoalescing(t *testing.T) {
	store := NewMemoryCredentialStore()
	e, err := NewEngine(store, NewMemoryRoleStore(), NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(), NewMemoryPolicyStore(), NewMemoryAuditStore(),
		WithLastUsedInterval(time.Hour))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	secret, cred, err := e.CreateCredential(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, ok := e.VerifyCredential(ctx, secret); !ok {
			t.Fatal("verify failed")
		}
	}

	// Only the first verify inside the window schedules a write.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.GetCredential(ctx, cred.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.LastUsedAt.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("last_used_at never written")
		}
		time.Sleep(10 * time.Millisecond)
	}

	first, _ := store.GetCredential(ctx, cred.ID)
	if _, ok := e.VerifyCredential(ctx, secret); !ok {
		t.Fatal("verify failed")
	}
	time.Sleep(50 * time.Millisecond)
	second, _ := store.GetCredential(ctx, cred.ID)
	if !second.LastUsedAt.Equal(first.LastUsedAt) {
		t.Fatal("verify inside the window rewrote last_used_at")
	}
}

func TestEngineOptionValidation(t *testing.T) {
	_, err := NewEngine(
		NewMemoryCredentialStore(),
		NewMemoryRoleStore(),
		NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(),
		NewMemoryPolicyStore(),
		NewMemoryAuditStore(),
		WithCredentialTTL(-time.Second),
	)
	if err == nil {
		t.Fatal("negative ttl accepted")
	}

	_, err = NewEngine(
		NewMemoryCredentialStore(),
		NewMemoryRoleStore(),
		NewMemoryAssignmentStore(),
		NewMemoryAttributeStore(),
		NewMemoryPolicyStore(),
		NewMemoryAuditStore(),
		WithLastUsedInterval(0),
	)
	if err == nil {
		t.Fatal("zero interval accepted")
	}
}

func TestBuilders(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreatePermission(ctx, "reports.view", ""); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if _, err := e.CreatePermission(ctx, "reports.export", ""); err != nil {
		t.Fatalf("create permission: %v", err)
	}

	if _, err := NewRoleBuilder("finance", "analyst").
		Permissions("reports.view").
		Apply(ctx, e); err != nil {
		t.Fatalf("apply analyst: %v", err)
	}
	if _, err := NewRoleBuilder("finance", "controller").
		Parent("analyst").
		Permissions("reports.export").
		Apply(ctx, e); err != nil {
		t.Fatalf("apply controller: %v", err)
	}

	if err := e.AssignRole(ctx, "dana", "finance", "controller"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	set, err := e.ResolvePermissions(ctx, "dana")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"reports.view", "reports.export"} {
		if _, ok := set[want]; !ok {
			t.Fatalf("closure missing %s", want)
		}
	}

	if _, err := NewPolicyBuilder("finance-only").
		Where("dept", "finance").
		Apply(ctx, e); err != nil {
		t.Fatalf("apply policy: %v", err)
	}
	p, err := e.policies.GetPolicyByName(ctx, "finance-only")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if !p.Predicate.Evaluate(map[string]any{"dept": "finance"}) {
		t.Fatal("built predicate does not match")
	}
}
