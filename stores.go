package authkit

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// CredentialStore persists credential metadata and, separately, the salted
// hash records. Metadata reads never return hash material.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *Credential, secret *CredentialSecret) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	GetCredentialByPrefix(ctx context.Context, prefix string) (*Credential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]*Credential, error)
	// GetSecret returns the hash record, or (nil, nil) when no record exists.
	// A revoked credential has no secret record.
	GetSecret(ctx context.Context, credentialID string) (*CredentialSecret, error)
	DeleteSecret(ctx context.Context, credentialID string) error
	MarkRevoked(ctx context.Context, credentialID string) error
	// DeleteCredential removes metadata and secret; used to unwind a
	// half-finished rotation, not exposed administratively.
	DeleteCredential(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error
}

// RoleStore persists the normalized RBAC graph: groups, roles with a parent
// pointer, permissions and role->permission grants.
type RoleStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	DeleteGroup(ctx context.Context, id string) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	GetGroupByName(ctx context.Context, name string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)

	CreateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, groupID, name string) (*Role, error)
	SetRoleParent(ctx context.Context, roleID, parentID string) error
	ListRoles(ctx context.Context, groupID string) ([]*Role, error)

	CreatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id string) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)

	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]string, error)
}

// AssignmentStore persists principal->(group, role) edges. The triple is the
// primary key, so upsert of an existing edge is a no-op.
type AssignmentStore interface {
	UpsertAssignment(ctx context.Context, a Assignment) error
	DeleteAssignment(ctx context.Context, a Assignment) error
	ListAssignments(ctx context.Context, principalID string) ([]Assignment, error)
}

// ClaimsCache holds the denormalized per-principal role membership
// projection. Replace must be atomic from a reader's point of view: a reader
// sees either the previous claims or the new ones, never a partial set.
type ClaimsCache interface {
	Replace(ctx context.Context, principalID string, claims Claims) error
	Get(ctx context.Context, principalID string) (Claims, bool, error)
	Invalidate(ctx context.Context, principalID string) error
}

// AttributeStore persists per-principal attribute bags. SetAttributes merges
// with last-write-wins per key; absent keys are untouched.
type AttributeStore interface {
	SetAttributes(ctx context.Context, principalID string, attrs map[string]any) error
	GetAttributes(ctx context.Context, principalID string) (map[string]any, error)
	DeleteAttribute(ctx context.Context, principalID, key string) error
}

// PolicyStore persists named boolean policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	GetPolicyByName(ctx context.Context, name string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]*Policy, error)
}

// AuditStore records lifecycle and administrative events.
type AuditStore interface {
	RecordEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
}
