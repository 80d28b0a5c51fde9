package authkit

import (
	"context"
	"sort"
	"time"
)

// ============================================================================
// CONTEXT RESOLVER & AUTHORIZATION GATE
// ============================================================================

// Scope names the identity source a context was resolved from.
type Scope string

const (
	ScopeImpersonation Scope = "impersonation"
	ScopeCredential    Scope = "credential"
	ScopeSession       Scope = "session"
	ScopeAnonymous     Scope = "anonymous"
)

// Impersonation is an administrative marker that substitutes the target
// principal's identity until it expires. Issuance and audit of the marker
// belong to the administrative tooling, not to this engine.
type Impersonation struct {
	PrincipalID string    `json:"principal_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (i *Impersonation) active(now time.Time) bool {
	return i != nil && i.PrincipalID != "" && (i.ExpiresAt.IsZero() || now.Before(i.ExpiresAt))
}

// ResolveRequest carries the identity material the transport layer already
// extracted. The three sources are mutually exclusive by priority:
// impersonation, then credential, then ambient session.
type ResolveRequest struct {
	Impersonation      *Impersonation
	Credential         string
	SessionPrincipalID string
}

// AuthContext is the unified permission-bearing value handed to the row
// filter evaluator. It is an immutable snapshot: deterministic within a
// request, threaded explicitly, never read from ambient state.
type AuthContext struct {
	PrincipalID string   `json:"principal_id"`
	Scope       Scope    `json:"scope"`
	Permissions []string `json:"permissions"`

	permSet map[string]struct{}
}

// HasPermission is a pure set-membership check, safe and cheap to call on
// every row of a large result set.
func (c *AuthContext) HasPermission(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.permSet[name]
	return ok
}

// Anonymous reports whether no identity source yielded a principal.
func (c *AuthContext) Anonymous() bool {
	return c == nil || c.PrincipalID == ""
}

// resolverStrategy inspects one identity source and reports whether it
// yields a principal. Strategies run in fixed priority order; the first
// success wins.
type resolverStrategy func(ctx context.Context, req ResolveRequest) (principalID string, scope Scope, ok bool)

func (e *Engine) strategies() []resolverStrategy {
	return []resolverStrategy{
		e.resolveImpersonation,
		e.resolveCredential,
		e.resolveSession,
	}
}

func (e *Engine) resolveImpersonation(_ context.Context, req ResolveRequest) (string, Scope, bool) {
	if !req.Impersonation.active(time.Now()) {
		return "", "", false
	}
	return req.Impersonation.PrincipalID, ScopeImpersonation, true
}

func (e *Engine) resolveCredential(ctx context.Context, req ResolveRequest) (string, Scope, bool) {
	if req.Credential == "" {
		return "", "", false
	}
	// A presented credential must belong to the ambient session identity
	// when one exists; VerifyCredentialFor enforces that.
	owner, ok := e.VerifyCredentialFor(ctx, req.Credential, req.SessionPrincipalID)
	if !ok {
		return "", "", false
	}
	return owner, ScopeCredential, true
}

func (e *Engine) resolveSession(_ context.Context, req ResolveRequest) (string, Scope, bool) {
	if req.SessionPrincipalID == "" {
		return "", "", false
	}
	return req.SessionPrincipalID, ScopeSession, true
}

// ResolveContext produces the AuthContext for a request. The permission set
// is resolved once here; a principal that fails the stored policy set gets
// an empty permission set, which keeps the per-row gate a pure membership
// check.
func (e *Engine) ResolveContext(ctx context.Context, req ResolveRequest) (*AuthContext, error) {
	var principalID string
	var scope Scope
	for _, strategy := range e.strategies() {
		if id, s, ok := strategy(ctx, req); ok {
			principalID, scope = id, s
			break
		}
	}
	if principalID == "" {
		return &AuthContext{Scope: ScopeAnonymous, Permissions: []string{}, permSet: map[string]struct{}{}}, nil
	}

	passed, err := e.EvaluateAll(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !passed {
		e.logger.Debug("policy gate failed", "principal", principalID)
		return &AuthContext{
			PrincipalID: principalID,
			Scope:       scope,
			Permissions: []string{},
			permSet:     map[string]struct{}{},
		}, nil
	}

	set, err := e.ResolvePermissions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	return &AuthContext{
		PrincipalID: principalID,
		Scope:       scope,
		Permissions: names,
		permSet:     set,
	}, nil
}

// Authorize is the single boolean check exposed to the row filter
// evaluator: true iff the context's principal holds the permission.
// "No permission" is a plain false, never an error.
func (e *Engine) Authorize(_ context.Context, authCtx *AuthContext, permissionName string) bool {
	return authCtx.HasPermission(permissionName)
}
