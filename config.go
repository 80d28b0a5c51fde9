package authkit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a declarative description of groups, permissions, roles,
// assignments, policies and attribute bags, suitable for bootstrapping an
// engine from a YAML or JSON file.
type Config struct {
	Groups      []GroupConfig             `json:"groups" yaml:"groups"`
	Permissions []PermissionConfig        `json:"permissions" yaml:"permissions"`
	Roles       []RoleConfig              `json:"roles" yaml:"roles"`
	Assignments []AssignmentConfig        `json:"assignments" yaml:"assignments"`
	Policies    []PolicyConfig            `json:"policies" yaml:"policies"`
	Attributes  map[string]map[string]any `json:"attributes" yaml:"attributes"`
	Engine      EngineConfig              `json:"engine" yaml:"engine"`
}

type GroupConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type PermissionConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type RoleConfig struct {
	Group       string   `json:"group" yaml:"group"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Parent      string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

type AssignmentConfig struct {
	Principal string `json:"principal" yaml:"principal"`
	Group     string `json:"group" yaml:"group"`
	Role      string `json:"role" yaml:"role"`
}

type PolicyConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Predicate   string `json:"predicate" yaml:"predicate"`
}

type EngineConfig struct {
	CredentialTTL       int64 `json:"credential_ttl_ms" yaml:"credential_ttl_ms"`
	LastUsedInterval    int64 `json:"last_used_interval_ms" yaml:"last_used_interval_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks names and predicates without touching any store.
func (c *Config) Validate() error {
	groups := make(map[string]bool)
	for _, g := range c.Groups {
		groups[g.Name] = true
	}
	roles := make(map[string]bool)
	for _, r := range c.Roles {
		if r.Group == "" || r.Name == "" {
			return fmt.Errorf("role %q needs a group and a name: %w", r.Name, ErrInvalid)
		}
		if len(c.Groups) > 0 && !groups[r.Group] {
			return fmt.Errorf("role %q references unknown group %q: %w", r.Name, r.Group, ErrInvalid)
		}
		roles[r.Group+"/"+r.Name] = true
	}
	for _, r := range c.Roles {
		if r.Parent != "" && !roles[r.Group+"/"+r.Parent] {
			return fmt.Errorf("role %q references unknown parent %q: %w", r.Name, r.Parent, ErrInvalid)
		}
	}
	for _, a := range c.Assignments {
		if !roles[a.Group+"/"+a.Role] {
			return fmt.Errorf("assignment for %q references unknown role %s/%s: %w", a.Principal, a.Group, a.Role, ErrInvalid)
		}
	}
	for _, p := range c.Policies {
		if _, err := ParsePredicate(p.Predicate); err != nil {
			return fmt.Errorf("policy %q: %w", p.Name, err)
		}
	}
	return nil
}

// ApplyConfig converges the engine's stores toward the configuration.
// Everything is an upsert: existing objects are reused, so applying the same
// file twice is a no-op. Roles are created before any parent links are set,
// so a parent may be declared after its children.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Engine.CredentialTTL > 0 {
		e.credentialTTL = time.Duration(cfg.Engine.CredentialTTL) * time.Millisecond
	}
	if cfg.Engine.LastUsedInterval > 0 {
		e.lastUsedInterval = time.Duration(cfg.Engine.LastUsedInterval) * time.Millisecond
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		opt := WithClosureCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer)
		if err := opt(e); err != nil {
			return err
		}
	}

	for _, g := range cfg.Groups {
		if existing, _ := e.roles.GetGroupByName(ctx, g.Name); existing != nil {
			continue
		}
		if _, err := e.CreateGroup(ctx, g.Name, g.Description); err != nil {
			return fmt.Errorf("create group %q: %w", g.Name, err)
		}
	}

	for _, p := range cfg.Permissions {
		if existing, _ := e.roles.GetPermissionByName(ctx, p.Name); existing != nil {
			continue
		}
		if _, err := e.CreatePermission(ctx, p.Name, p.Description); err != nil {
			return fmt.Errorf("create permission %q: %w", p.Name, err)
		}
	}

	// First pass creates the roles and their grants, second pass links
	// parents once every role exists.
	for _, r := range cfg.Roles {
		builder := NewRoleBuilder(r.Group, r.Name).
			Description(r.Description).
			Permissions(r.Permissions...)
		if _, err := builder.Apply(ctx, e); err != nil {
			return fmt.Errorf("apply role %s/%s: %w", r.Group, r.Name, err)
		}
	}
	for _, r := range cfg.Roles {
		if r.Parent == "" {
			continue
		}
		if _, err := NewRoleBuilder(r.Group, r.Name).Parent(r.Parent).Apply(ctx, e); err != nil {
			return fmt.Errorf("link role %s/%s to parent %s: %w", r.Group, r.Name, r.Parent, err)
		}
	}

	for _, a := range cfg.Assignments {
		if err := e.AssignRole(ctx, a.Principal, a.Group, a.Role); err != nil {
			return fmt.Errorf("assign %s/%s to %q: %w", a.Group, a.Role, a.Principal, err)
		}
	}

	for _, p := range cfg.Policies {
		builder := NewPolicyBuilder(p.Name).
			Description(p.Description).
			PredicateText(p.Predicate)
		if _, err := builder.Apply(ctx, e); err != nil {
			return fmt.Errorf("apply policy %q: %w", p.Name, err)
		}
	}

	for principalID, attrs := range cfg.Attributes {
		if err := e.SetAttributes(ctx, principalID, attrs); err != nil {
			return fmt.Errorf("set attributes for %q: %w", principalID, err)
		}
	}

	e.logger.Info("configuration applied",
		"groups", len(cfg.Groups),
		"permissions", len(cfg.Permissions),
		"roles", len(cfg.Roles),
		"assignments", len(cfg.Assignments),
		"policies", len(cfg.Policies))
	return nil
}
