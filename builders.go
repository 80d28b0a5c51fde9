package authkit

import "context"

// Builders provide a fluent API for declaring roles and policies

// RoleBuilder accumulates a role declaration and applies it to an engine in
// one call: the role is created (or reused), wired to its parent and granted
// its permissions.
type RoleBuilder struct {
	group       string
	name        string
	description string
	parent      string
	permissions []string
}

func NewRoleBuilder(group, name string) *RoleBuilder {
	return &RoleBuilder{group: group, name: name, permissions: []string{}}
}

func (b *RoleBuilder) Description(d string) *RoleBuilder { b.description = d; return b }
func (b *RoleBuilder) Parent(name string) *RoleBuilder   { b.parent = name; return b }
func (b *RoleBuilder) Permissions(names ...string) *RoleBuilder {
	b.permissions = append(b.permissions, names...)
	return b
}

// Apply creates the role if it does not exist and converges parent and
// grants. Already-present pieces are left alone, so Apply is idempotent.
func (b *RoleBuilder) Apply(ctx context.Context, e *Engine) (*Role, error) {
	group, err := e.roles.GetGroupByName(ctx, b.group)
	if err != nil {
		if group, err = e.CreateGroup(ctx, b.group, ""); err != nil {
			return nil, err
		}
	}
	role, err := e.roles.GetRoleByName(ctx, group.ID, b.name)
	if err != nil {
		if role, err = e.CreateRole(ctx, group.ID, b.name, b.description); err != nil {
			return nil, err
		}
	}
	if b.parent != "" {
		parent, err := e.roles.GetRoleByName(ctx, group.ID, b.parent)
		if err != nil {
			return nil, err
		}
		if role.ParentRoleID != parent.ID {
			if err := e.SetParentRole(ctx, role.ID, parent.ID); err != nil {
				return nil, err
			}
		}
	}
	for _, perm := range b.permissions {
		if err := e.GrantPermission(ctx, role.ID, perm); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// PolicyBuilder accumulates a policy declaration.
type PolicyBuilder struct {
	name        string
	description string
	predicate   Expr
	err         error
}

func NewPolicyBuilder(name string) *PolicyBuilder {
	return &PolicyBuilder{name: name}
}

func (b *PolicyBuilder) Description(d string) *PolicyBuilder { b.description = d; return b }

// Predicate sets the policy predicate from an already-built Expr tree.
func (b *PolicyBuilder) Predicate(expr Expr) *PolicyBuilder { b.predicate = expr; return b }

// PredicateText parses a textual predicate; the error surfaces from Apply.
func (b *PolicyBuilder) PredicateText(s string) *PolicyBuilder {
	expr, err := ParsePredicate(s)
	if err != nil {
		b.err = err
		return b
	}
	b.predicate = expr
	return b
}

// Where adds an equality term, and-ed with any predicate set so far.
func (b *PolicyBuilder) Where(attr string, value any) *PolicyBuilder {
	return b.and(&AttrEqualsExpr{Attr: attr, Value: value})
}

// WhereContains adds a containment term, and-ed with any predicate set so far.
func (b *PolicyBuilder) WhereContains(attr string, value any) *PolicyBuilder {
	return b.and(&AttrContainsExpr{Attr: attr, Value: value})
}

func (b *PolicyBuilder) and(term Expr) *PolicyBuilder {
	switch cur := b.predicate.(type) {
	case nil:
		b.predicate = term
	case *AndExpr:
		cur.Exprs = append(cur.Exprs, term)
	default:
		b.predicate = &AndExpr{Exprs: []Expr{cur, term}}
	}
	return b
}

// Apply creates the policy, or updates its predicate and description when a
// policy with the same name already exists.
func (b *PolicyBuilder) Apply(ctx context.Context, e *Engine) (*Policy, error) {
	if b.err != nil {
		return nil, b.err
	}
	existing, err := e.policies.GetPolicyByName(ctx, b.name)
	if err == nil && existing != nil {
		existing.Description = b.description
		existing.Predicate = b.predicate
		if err := e.UpdatePolicy(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	return e.CreatePolicy(ctx, b.name, b.description, b.predicate)
}
