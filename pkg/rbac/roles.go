package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleAdmin is the role key whose permissions form the full set
const RoleAdmin = "admin"

//go:embed roles.yaml
var defaultRoleDocument []byte

// RoleDefinition is one entry of the role document
type RoleDefinition struct {
	Key         string   `yaml:"key" json:"key"`
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type roleDocument struct {
	Roles []RoleDefinition `yaml:"roles" json:"roles"`
}

// RoleConfig maps role keys to permission sets. It is immutable once built
// and safe for concurrent use.
type RoleConfig struct {
	keys  []string
	names map[string]string
	sets  map[string]PermissionSet
}

// DefaultRoleConfig returns the role table compiled into the binary
func DefaultRoleConfig() *RoleConfig {
	cfg, err := ParseRoleConfig(defaultRoleDocument)
	if err != nil {
		panic(fmt.Sprintf("embedded role document is invalid: %v", err))
	}
	return cfg
}

// LoadRoleConfig reads the role document at path, or the embedded default
// when path is empty
func LoadRoleConfig(path string) (*RoleConfig, error) {
	if path == "" {
		return DefaultRoleConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role config %s: %w", path, err)
	}
	cfg, err := ParseRoleConfig(data)
	if err != nil {
		return nil, fmt.Errorf("role config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseRoleConfig parses a YAML or JSON role document
func ParseRoleConfig(data []byte) (*RoleConfig, error) {
	var doc roleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse role document: %w", err)
	}

	cfg := &RoleConfig{
		names: make(map[string]string, len(doc.Roles)),
		sets:  make(map[string]PermissionSet, len(doc.Roles)),
	}
	for i, def := range doc.Roles {
		key := strings.TrimSpace(def.Key)
		if key == "" {
			return nil, fmt.Errorf("role %d has a blank key", i)
		}
		if _, dup := cfg.sets[key]; dup {
			return nil, fmt.Errorf("duplicate role key %q", key)
		}

		perms := make([]Permission, 0, len(def.Permissions))
		for _, p := range def.Permissions {
			p = strings.TrimSpace(p)
			if p == "" {
				return nil, fmt.Errorf("role %q has a blank permission", key)
			}
			perms = append(perms, Permission(p))
		}

		cfg.keys = append(cfg.keys, key)
		cfg.names[key] = def.Name
		cfg.sets[key] = NewPermissionSet(perms...)
	}

	if _, ok := cfg.sets[RoleAdmin]; !ok {
		return nil, fmt.Errorf("role document must define the %q role", RoleAdmin)
	}
	return cfg, nil
}

// PermissionsOf returns the permissions of role, or the empty set for
// unknown or blank keys
func (c *RoleConfig) PermissionsOf(role string) PermissionSet {
	return c.sets[role]
}

// HasRole reports whether role is defined
func (c *RoleConfig) HasRole(role string) bool {
	_, ok := c.sets[role]
	return ok
}

// AdminSet returns the full permission set
func (c *RoleConfig) AdminSet() PermissionSet {
	return c.sets[RoleAdmin]
}

// Roles returns the role definitions in document order
func (c *RoleConfig) Roles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(c.keys))
	for _, key := range c.keys {
		out = append(out, RoleDefinition{
			Key:         key,
			Name:        c.names[key],
			Permissions: c.sets[key].Strings(),
		})
	}
	return out
}
