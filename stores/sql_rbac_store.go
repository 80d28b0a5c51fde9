package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authkit"
)

// SQLRoleStore persists the normalized RBAC graph in SQL (squealx).
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateGroup(ctx context.Context, g *authkit.Group) error {
	q := `INSERT INTO auth_groups(id, name, description) VALUES(:id, :name, :description)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": g.ID, "name": g.Name, "description": g.Description})
	return err
}

func (s *SQLRoleStore) DeleteGroup(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE group_id = :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM auth_groups WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) scanGroup(r rowScanner) (*authkit.Group, error) {
	g := &authkit.Group{}
	if err := r.Scan(&g.ID, &g.Name, &g.Description); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLRoleStore) GetGroup(ctx context.Context, id string) (*authkit.Group, error) {
	q := `SELECT id, name, description FROM auth_groups WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("group %s: %w", id, authkit.ErrNotFound)
	}
	return s.scanGroup(r)
}

func (s *SQLRoleStore) GetGroupByName(ctx context.Context, name string) (*authkit.Group, error) {
	q := `SELECT id, name, description FROM auth_groups WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("group %q: %w", name, authkit.ErrNotFound)
	}
	return s.scanGroup(r)
}

func (s *SQLRoleStore) ListGroups(ctx context.Context) ([]*authkit.Group, error) {
	q := `SELECT id, name, description FROM auth_groups ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Group, 0)
	for r.Next() {
		g, err := s.scanGroup(r)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, role *authkit.Role) error {
	q := `INSERT INTO roles(id, group_id, name, description, parent_role_id)
	      VALUES(:id, :group_id, :name, :description, :parent_role_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             role.ID,
		"group_id":       role.GroupID,
		"name":           role.Name,
		"description":    role.Description,
		"parent_role_id": role.ParentRoleID,
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, `UPDATE roles SET parent_role_id = '' WHERE parent_role_id = :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) scanRole(r rowScanner) (*authkit.Role, error) {
	role := &authkit.Role{}
	if err := r.Scan(&role.ID, &role.GroupID, &role.Name, &role.Description, &role.ParentRoleID); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*authkit.Role, error) {
	q := `SELECT id, group_id, name, description, parent_role_id FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role %s: %w", id, authkit.ErrNotFound)
	}
	return s.scanRole(r)
}

func (s *SQLRoleStore) GetRoleByName(ctx context.Context, groupID, name string) (*authkit.Role, error) {
	q := `SELECT id, group_id, name, description, parent_role_id FROM roles WHERE group_id = :group_id AND name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"group_id": groupID, "name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role %q: %w", name, authkit.ErrNotFound)
	}
	return s.scanRole(r)
}

func (s *SQLRoleStore) SetRoleParent(ctx context.Context, roleID, parentID string) error {
	q := `UPDATE roles SET parent_role_id = :parent WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": roleID, "parent": parentID})
	return err
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, groupID string) ([]*authkit.Role, error) {
	q := `SELECT id, group_id, name, description, parent_role_id FROM roles WHERE group_id = :group_id OR :group_id = '' ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Role, 0)
	for r.Next() {
		role, err := s.scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLRoleStore) CreatePermission(ctx context.Context, p *authkit.Permission) error {
	q := `INSERT INTO permissions(id, name, description) VALUES(:id, :name, :description)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": p.ID, "name": p.Name, "description": p.Description})
	return err
}

func (s *SQLRoleStore) DeletePermission(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM role_permissions WHERE permission_id = :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM permissions WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) scanPermission(r rowScanner) (*authkit.Permission, error) {
	p := &authkit.Permission{}
	if err := r.Scan(&p.ID, &p.Name, &p.Description); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLRoleStore) GetPermission(ctx context.Context, id string) (*authkit.Permission, error) {
	q := `SELECT id, name, description FROM permissions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("permission %s: %w", id, authkit.ErrNotFound)
	}
	return s.scanPermission(r)
}

func (s *SQLRoleStore) GetPermissionByName(ctx context.Context, name string) (*authkit.Permission, error) {
	q := `SELECT id, name, description FROM permissions WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("permission %q: %w", name, authkit.ErrNotFound)
	}
	return s.scanPermission(r)
}

func (s *SQLRoleStore) ListPermissions(ctx context.Context) ([]*authkit.Permission, error) {
	q := `SELECT id, name, description FROM permissions ORDER BY name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authkit.Permission, 0)
	for r.Next() {
		p, err := s.scanPermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQLRoleStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	q := `INSERT INTO role_permissions(role_id, permission_id) VALUES(:role_id, :permission_id)
	      ON CONFLICT(role_id, permission_id) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": roleID, "permission_id": permissionID})
	return err
}

func (s *SQLRoleStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	q := `DELETE FROM role_permissions WHERE role_id = :role_id AND permission_id = :permission_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_id": roleID, "permission_id": permissionID})
	return err
}

func (s *SQLRoleStore) ListRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	q := `SELECT permission_id FROM role_permissions WHERE role_id = :role_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var pid string
		if err := r.Scan(&pid); err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

// SQLAssignmentStore persists principal->(group, role) edges; the triple is
// the primary key, so re-assigning is a no-op.
type SQLAssignmentStore struct {
	db *squealx.DB
}

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

func (s *SQLAssignmentStore) UpsertAssignment(ctx context.Context, a authkit.Assignment) error {
	q := `INSERT INTO principal_group_roles(principal_id, group_id, role_id)
	      VALUES(:principal_id, :group_id, :role_id)
	      ON CONFLICT(principal_id, group_id, role_id) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_id": a.PrincipalID,
		"group_id":     a.GroupID,
		"role_id":      a.RoleID,
	})
	return err
}

func (s *SQLAssignmentStore) DeleteAssignment(ctx context.Context, a authkit.Assignment) error {
	q := `DELETE FROM principal_group_roles WHERE principal_id = :principal_id AND group_id = :group_id AND role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"principal_id": a.PrincipalID,
		"group_id":     a.GroupID,
		"role_id":      a.RoleID,
	})
	return err
}

func (s *SQLAssignmentStore) ListAssignments(ctx context.Context, principalID string) ([]authkit.Assignment, error) {
	q := `SELECT principal_id, group_id, role_id FROM principal_group_roles WHERE principal_id = :principal_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal_id": principalID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]authkit.Assignment, 0)
	for r.Next() {
		var a authkit.Assignment
		if err := r.Scan(&a.PrincipalID, &a.GroupID, &a.RoleID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
