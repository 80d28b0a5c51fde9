package authkit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

// MemoryCredentialStore keeps credentials and their secret records in two
// separate maps, mirroring the metadata/secret split of the SQL schema.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byPrefix map[string]string // prefix -> credential id
	secrets  map[string]*CredentialSecret
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:     make(map[string]*Credential),
		byPrefix: make(map[string]string),
		secrets:  make(map[string]*CredentialSecret),
	}
}

func (s *MemoryCredentialStore) CreateCredential(ctx context.Context, c *Credential, secret *CredentialSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byPrefix[c.Prefix]; exists {
		return fmt.Errorf("credential prefix %s: %w", c.Prefix, ErrConflict)
	}
	dup := *c
	s.byID[c.ID] = &dup
	s.byPrefix[c.Prefix] = c.ID
	sec := *secret
	s.secrets[c.ID] = &sec
	return nil
}

func (s *MemoryCredentialStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("credential %s: %w", id, ErrNotFound)
	}
	dup := *c
	return &dup, nil
}

func (s *MemoryCredentialStore) GetCredentialByPrefix(ctx context.Context, prefix string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("credential prefix %s: %w", prefix, ErrNotFound)
	}
	dup := *s.byID[id]
	return &dup, nil
}

func (s *MemoryCredentialStore) ListCredentials(ctx context.Context, ownerID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Credential, 0)
	for _, c := range s.byID {
		if c.OwnerID == ownerID {
			dup := *c
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *MemoryCredentialStore) GetSecret(ctx context.Context, credentialID string) (*CredentialSecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.secrets[credentialID]
	if !ok {
		return nil, nil
	}
	dup := *sec
	return &dup, nil
}

func (s *MemoryCredentialStore) DeleteSecret(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, credentialID)
	return nil
}

func (s *MemoryCredentialStore) MarkRevoked(ctx context.Context, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[credentialID]
	if !ok {
		return fmt.Errorf("credential %s: %w", credentialID, ErrNotFound)
	}
	c.Revoked = true
	return nil
}

func (s *MemoryCredentialStore) DeleteCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		delete(s.byPrefix, c.Prefix)
	}
	delete(s.byID, id)
	delete(s.secrets, id)
	return nil
}

func (s *MemoryCredentialStore) TouchLastUsed(ctx context.Context, credentialID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[credentialID]; ok {
		c.LastUsedAt = at
	}
	return nil
}

// MemoryRoleStore holds the normalized RBAC graph in maps.
type MemoryRoleStore struct {
	mu          sync.RWMutex
	groups      map[string]*Group
	roles       map[string]*Role
	permissions map[string]*Permission
	grants      map[string]map[string]bool // role id -> permission ids
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		groups:      make(map[string]*Group),
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		grants:      make(map[string]map[string]bool),
	}
}

func (s *MemoryRoleStore) CreateGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.Name == g.Name {
			return fmt.Errorf("group %q: %w", g.Name, ErrConflict)
		}
	}
	dup := *g
	s.groups[g.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, id)
	for rid, r := range s.roles {
		if r.GroupID == id {
			delete(s.roles, rid)
			delete(s.grants, rid)
		}
	}
	return nil
}

func (s *MemoryRoleStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	dup := *g
	return &dup, nil
}

func (s *MemoryRoleStore) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.Name == name {
			dup := *g
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
}

func (s *MemoryRoleStore) ListGroups(ctx context.Context) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0, len(s.groups))
	for _, g := range s.groups {
		dup := *g
		out = append(out, &dup)
	}
	return out, nil
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.GroupID == r.GroupID && existing.Name == r.Name {
			return fmt.Errorf("role %q: %w", r.Name, ErrConflict)
		}
	}
	dup := *r
	s.roles[r.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	delete(s.grants, id)
	for _, r := range s.roles {
		if r.ParentRoleID == id {
			r.ParentRoleID = ""
		}
	}
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	dup := *r
	return &dup, nil
}

func (s *MemoryRoleStore) GetRoleByName(ctx context.Context, groupID, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.GroupID == groupID && r.Name == name {
			dup := *r
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("role %q in group %s: %w", name, groupID, ErrNotFound)
}

func (s *MemoryRoleStore) SetRoleParent(ctx context.Context, roleID, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	r.ParentRoleID = parentID
	return nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context, groupID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0)
	for _, r := range s.roles {
		if groupID == "" || r.GroupID == groupID {
			dup := *r
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *MemoryRoleStore) CreatePermission(ctx context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.permissions {
		if existing.Name == p.Name {
			return fmt.Errorf("permission %q: %w", p.Name, ErrConflict)
		}
	}
	dup := *p
	s.permissions[p.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.permissions, id)
	for _, granted := range s.grants {
		delete(granted, id)
	}
	return nil
}

func (s *MemoryRoleStore) GetPermission(ctx context.Context, id string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permissions[id]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", id, ErrNotFound)
	}
	dup := *p
	return &dup, nil
}

func (s *MemoryRoleStore) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.permissions {
		if p.Name == name {
			dup := *p
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("permission %q: %w", name, ErrNotFound)
}

func (s *MemoryRoleStore) ListPermissions(ctx context.Context) ([]*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		dup := *p
		out = append(out, &dup)
	}
	return out, nil
}

func (s *MemoryRoleStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[roleID]; !ok {
		s.grants[roleID] = make(map[string]bool)
	}
	s.grants[roleID][permissionID] = true
	return nil
}

func (s *MemoryRoleStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if granted, ok := s.grants[roleID]; ok {
		delete(granted, permissionID)
	}
	return nil
}

func (s *MemoryRoleStore) ListRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for pid := range s.grants[roleID] {
		out = append(out, pid)
	}
	return out, nil
}

// MemoryAssignmentStore keys edges by the full triple.
type MemoryAssignmentStore struct {
	mu    sync.RWMutex
	edges map[Assignment]bool
}

func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{edges: make(map[Assignment]bool)}
}

func (s *MemoryAssignmentStore) UpsertAssignment(ctx context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[a] = true
	return nil
}

func (s *MemoryAssignmentStore) DeleteAssignment(ctx context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, a)
	return nil
}

func (s *MemoryAssignmentStore) ListAssignments(ctx context.Context, principalID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Assignment, 0)
	for edge := range s.edges {
		if edge.PrincipalID == principalID {
			out = append(out, edge)
		}
	}
	return out, nil
}

// MemoryClaimsCache swaps in a freshly built map on Replace, so readers see
// either the old claims or the new ones, never a half-written entry.
type MemoryClaimsCache struct {
	mu      sync.RWMutex
	entries map[string]Claims
}

func NewMemoryClaimsCache() *MemoryClaimsCache {
	return &MemoryClaimsCache{entries: make(map[string]Claims)}
}

func (c *MemoryClaimsCache) Replace(ctx context.Context, principalID string, claims Claims) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[principalID] = claims.Clone()
	return nil
}

func (c *MemoryClaimsCache) Get(ctx context.Context, principalID string) (Claims, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claims, ok := c.entries[principalID]
	if !ok {
		return nil, false, nil
	}
	return claims.Clone(), true, nil
}

func (c *MemoryClaimsCache) Invalidate(ctx context.Context, principalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, principalID)
	return nil
}

// MemoryAttributeStore merges attribute bags with last-write-wins per key.
type MemoryAttributeStore struct {
	mu   sync.RWMutex
	bags map[string]map[string]any
}

func NewMemoryAttributeStore() *MemoryAttributeStore {
	return &MemoryAttributeStore{bags: make(map[string]map[string]any)}
}

func (s *MemoryAttributeStore) SetAttributes(ctx context.Context, principalID string, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bag, ok := s.bags[principalID]
	if !ok {
		bag = make(map[string]any)
		s.bags[principalID] = bag
	}
	for k, v := range attrs {
		bag[k] = v
	}
	return nil
}

func (s *MemoryAttributeStore) GetAttributes(ctx context.Context, principalID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bag, ok := s.bags[principalID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryAttributeStore) DeleteAttribute(ctx context.Context, principalID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bag, ok := s.bags[principalID]; ok {
		delete(bag, key)
	}
	return nil
}

// MemoryPolicyStore holds named policies.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.Name == p.Name {
			return fmt.Errorf("policy %q: %w", p.Name, ErrConflict)
		}
	}
	dup := *p
	s.policies[p.ID] = &dup
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return fmt.Errorf("policy %s: %w", p.ID, ErrNotFound)
	}
	dup := *p
	s.policies[p.ID] = &dup
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	dup := *p
	return &dup, nil
}

func (s *MemoryPolicyStore) GetPolicyByName(ctx context.Context, name string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.Name == name {
			dup := *p
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("policy %q: %w", name, ErrNotFound)
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Policy, 0, len(s.policies))
	for _, p := range s.policies {
		dup := *p
		out = append(out, &dup)
	}
	return out, nil
}

// MemoryAuditStore appends events to a slice.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*Event
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*Event, 0)}
}

func (s *MemoryAuditStore) RecordEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *e
	s.entries = append(s.entries, &dup)
	return nil
}

func (s *MemoryAuditStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, 0)
	for _, entry := range s.entries {
		if filter.PrincipalID != "" && entry.PrincipalID != filter.PrincipalID {
			continue
		}
		if filter.CredentialID != "" && entry.CredentialID != filter.CredentialID {
			continue
		}
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		dup := *entry
		out = append(out, &dup)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
