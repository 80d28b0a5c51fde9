package authkit

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/oarkflow/authkit/utils"
)

// ============================================================================
// RBAC GRAPH & CLAIMS CACHE
// ============================================================================

// Group is a pure namespace for roles.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Role belongs to a group and may point at a parent role in the same group.
// The parent relation forms a forest; cycle creation is rejected at write
// time.
type Role struct {
	ID           string `json:"id"`
	GroupID      string `json:"group_id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ParentRoleID string `json:"parent_role_id,omitempty"`
}

// Permission is a binary grant identified by a unique name.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Assignment is the principal->(group, role) edge; the triple is the key.
type Assignment struct {
	PrincipalID string `json:"principal_id"`
	GroupID     string `json:"group_id"`
	RoleID      string `json:"role_id"`
}

// Claims is the denormalized per-principal projection: group id -> names of
// roles held in that group.
type Claims map[string][]string

// Clone returns a deep copy, so cached claims can be handed out without
// aliasing the cache's own map.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for g, roles := range c {
		cp := make([]string, len(roles))
		copy(cp, roles)
		out[g] = cp
	}
	return out
}

// group / role / permission administration

func (e *Engine) CreateGroup(ctx context.Context, name, description string) (*Group, error) {
	if !utils.ValidName(name) {
		return nil, fmt.Errorf("group name %q: %w", name, ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, _ := e.roles.GetGroupByName(ctx, name); existing != nil {
		return nil, fmt.Errorf("group %q: %w", name, ErrConflict)
	}
	g := &Group{ID: uuid.NewString(), Name: name, Description: description}
	if err := e.roles.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	e.logger.Info("group created", "group", g.ID, "name", name)
	return g, nil
}

func (e *Engine) DeleteGroup(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.DeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	e.invalidateClosures()
	return nil
}

func (e *Engine) CreateRole(ctx context.Context, groupID, name, description string) (*Role, error) {
	if !utils.ValidName(name) {
		return nil, fmt.Errorf("role name %q: %w", name, ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.roles.GetGroup(ctx, groupID); err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if existing, _ := e.roles.GetRoleByName(ctx, groupID, name); existing != nil {
		return nil, fmt.Errorf("role %q in group %s: %w", name, groupID, ErrConflict)
	}
	r := &Role{ID: uuid.NewString(), GroupID: groupID, Name: name, Description: description}
	if err := e.roles.CreateRole(ctx, r); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	e.logger.Info("role created", "role", r.ID, "group", groupID, "name", name)
	return r, nil
}

func (e *Engine) DeleteRole(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.DeleteRole(ctx, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	e.invalidateClosures()
	return nil
}

func (e *Engine) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	if !utils.ValidName(name) {
		return nil, fmt.Errorf("permission name %q: %w", name, ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, _ := e.roles.GetPermissionByName(ctx, name); existing != nil {
		return nil, fmt.Errorf("permission %q: %w", name, ErrConflict)
	}
	p := &Permission{ID: uuid.NewString(), Name: name, Description: description}
	if err := e.roles.CreatePermission(ctx, p); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return p, nil
}

func (e *Engine) DeletePermission(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.DeletePermission(ctx, id); err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	e.invalidateClosures()
	return nil
}

// SetParentRole re-parents child under parent, or clears the parent when
// parentRoleID is empty. Assigning a parent that is a descendant of the
// child would create a cycle and is rejected before any mutation.
func (e *Engine) SetParentRole(ctx context.Context, childRoleID, parentRoleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	child, err := e.roles.GetRole(ctx, childRoleID)
	if err != nil {
		return fmt.Errorf("role %s: %w", childRoleID, ErrNotFound)
	}
	if parentRoleID != "" {
		parent, err := e.roles.GetRole(ctx, parentRoleID)
		if err != nil {
			return fmt.Errorf("role %s: %w", parentRoleID, ErrNotFound)
		}
		if parent.GroupID != child.GroupID {
			return fmt.Errorf("parent role must be in the same group: %w", ErrInvalid)
		}
		// Walk up from the proposed parent; hitting the child means a cycle.
		// Bounded by maxRoleDepth to stay finite on corrupt data.
		cursor := parent
		for depth := 0; depth < maxRoleDepth; depth++ {
			if cursor.ID == child.ID {
				return fmt.Errorf("parent %s is a descendant of %s: %w", parentRoleID, childRoleID, ErrInvalid)
			}
			if cursor.ParentRoleID == "" {
				break
			}
			cursor, err = e.roles.GetRole(ctx, cursor.ParentRoleID)
			if err != nil {
				break
			}
		}
	}

	if err := e.roles.SetRoleParent(ctx, childRoleID, parentRoleID); err != nil {
		return fmt.Errorf("set parent role: %w", err)
	}
	// Claims store role names, not resolved permissions, so only the
	// memoized closures need to go.
	e.invalidateClosures()
	return nil
}

// grants

func (e *Engine) GrantPermission(ctx context.Context, roleID, permissionName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	perm, err := e.roles.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return fmt.Errorf("permission %q: %w", permissionName, ErrNotFound)
	}
	if _, err := e.roles.GetRole(ctx, roleID); err != nil {
		return fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	if err := e.roles.GrantPermission(ctx, roleID, perm.ID); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	e.invalidateClosures()
	e.logger.Debug("permission granted", "role", roleID, "permission", permissionName)
	return nil
}

func (e *Engine) RevokePermission(ctx context.Context, roleID, permissionName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	perm, err := e.roles.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return fmt.Errorf("permission %q: %w", permissionName, ErrNotFound)
	}
	if err := e.roles.RevokePermission(ctx, roleID, perm.ID); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	e.invalidateClosures()
	return nil
}

// assignments

// AssignRole resolves the role by (group name, role name), upserts the
// assignment edge, then synchronously rebuilds the principal's claims cache
// entry before returning. There is no window where a read misses the role.
func (e *Engine) AssignRole(ctx context.Context, principalID, groupName, roleName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	group, err := e.roles.GetGroupByName(ctx, groupName)
	if err != nil {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	role, err := e.roles.GetRoleByName(ctx, group.ID, roleName)
	if err != nil {
		return fmt.Errorf("role %q in group %q: %w", roleName, groupName, ErrNotFound)
	}

	edge := Assignment{PrincipalID: principalID, GroupID: group.ID, RoleID: role.ID}
	if err := e.assignments.UpsertAssignment(ctx, edge); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	if err := e.rebuildClaims(ctx, principalID); err != nil {
		return err
	}
	e.invalidateClosures()
	e.logger.Info("role assigned", "principal", principalID, "group", groupName, "role", roleName)
	e.recordEvent(EventRoleAssigned, principalID, "", map[string]any{"group": groupName, "role": roleName})
	return nil
}

// RevokeRole removes the assignment edge and rebuilds the claims entry.
func (e *Engine) RevokeRole(ctx context.Context, principalID, groupName, roleName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	group, err := e.roles.GetGroupByName(ctx, groupName)
	if err != nil {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	role, err := e.roles.GetRoleByName(ctx, group.ID, roleName)
	if err != nil {
		return fmt.Errorf("role %q in group %q: %w", roleName, groupName, ErrNotFound)
	}

	edge := Assignment{PrincipalID: principalID, GroupID: group.ID, RoleID: role.ID}
	if err := e.assignments.DeleteAssignment(ctx, edge); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if err := e.rebuildClaims(ctx, principalID); err != nil {
		return err
	}
	e.invalidateClosures()
	e.recordEvent(EventRoleRevoked, principalID, "", map[string]any{"group": groupName, "role": roleName})
	return nil
}

// RebuildClaimsCache re-derives the cached claims entry for a principal from
// the assignment edges. Exposed for recovery tooling; normal mutations
// rebuild inline.
func (e *Engine) RebuildClaimsCache(ctx context.Context, principalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildClaims(ctx, principalID)
}

// rebuildClaims fully replaces the cache entry; it never patches
// incrementally, to avoid drift. Callers hold e.mu.
func (e *Engine) rebuildClaims(ctx context.Context, principalID string) error {
	edges, err := e.assignments.ListAssignments(ctx, principalID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	claims := make(Claims)
	for _, edge := range edges {
		role, err := e.roles.GetRole(ctx, edge.RoleID)
		if err != nil {
			// Dangling edge; skip rather than poison the whole entry.
			e.logger.Error("assignment references missing role", "principal", principalID, "role", edge.RoleID)
			continue
		}
		claims[edge.GroupID] = append(claims[edge.GroupID], role.Name)
	}
	for g := range claims {
		sort.Strings(claims[g])
	}
	if err := e.claims.Replace(ctx, principalID, claims); err != nil {
		return fmt.Errorf("replace claims: %w", err)
	}
	return nil
}

// ClaimsFor returns the cached claims for a principal, building the entry
// on first read.
func (e *Engine) ClaimsFor(ctx context.Context, principalID string) (Claims, error) {
	e.mu.RLock()
	claims, ok, err := e.claims.Get(ctx, principalID)
	e.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("read claims: %w", err)
	}
	if ok {
		return claims, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if claims, ok, err = e.claims.Get(ctx, principalID); err == nil && ok {
		return claims, nil
	}
	if err := e.rebuildClaims(ctx, principalID); err != nil {
		return nil, err
	}
	claims, _, err = e.claims.Get(ctx, principalID)
	return claims, err
}

// ResolvePermissions computes the permission closure for a principal: every
// permission granted to any held role or any ancestor of a held role.
// Role membership comes from the claims cache; the grant edges are read
// live, so the closure always reflects the current RolePermission graph.
func (e *Engine) ResolvePermissions(ctx context.Context, principalID string) (map[string]struct{}, error) {
	if perms, ok := e.getClosureFromCache(principalID); ok {
		return permSet(perms), nil
	}

	claims, err := e.ClaimsFor(ctx, principalID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	set := make(map[string]struct{})
	permNames := make(map[string]string) // permission id -> name, per-call memo
	visited := make(map[string]bool)
	for groupID, roleNames := range claims {
		for _, roleName := range roleNames {
			role, err := e.roles.GetRoleByName(ctx, groupID, roleName)
			if err != nil {
				continue
			}
			if err := e.collectRolePermissions(ctx, role, set, permNames, visited); err != nil {
				return nil, err
			}
		}
	}

	sorted := make([]string, 0, len(set))
	for name := range set {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)
	e.setClosureInCache(principalID, sorted)
	return set, nil
}

// collectRolePermissions unions the grants of role and its ancestor chain
// into set. The visited map collapses shared ancestors across roles; the
// depth cap tolerates corrupt parent data.
func (e *Engine) collectRolePermissions(ctx context.Context, role *Role, set map[string]struct{}, permNames map[string]string, visited map[string]bool) error {
	cursor := role
	for depth := 0; depth < maxRoleDepth && cursor != nil; depth++ {
		if visited[cursor.ID] {
			return nil
		}
		visited[cursor.ID] = true

		permIDs, err := e.roles.ListRolePermissions(ctx, cursor.ID)
		if err != nil {
			return fmt.Errorf("list grants for role %s: %w", cursor.ID, err)
		}
		for _, pid := range permIDs {
			name, ok := permNames[pid]
			if !ok {
				perm, err := e.roles.GetPermission(ctx, pid)
				if err != nil {
					continue
				}
				name = perm.Name
				permNames[pid] = name
			}
			set[name] = struct{}{}
		}

		if cursor.ParentRoleID == "" {
			return nil
		}
		next, err := e.roles.GetRole(ctx, cursor.ParentRoleID)
		if err != nil {
			return nil
		}
		cursor = next
	}
	return nil
}

func permSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
