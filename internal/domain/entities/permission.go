package entities

import (
	"strings"

	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// Namespace is the closed set of top-level resource categories.
// ParseNamespace accepts both "roles" and "permission_schemes" and
// resolves either to NamespacePermissionSchemes (the
// ResourceNamespace-drift Open Question). Decoding a Namespace from
// JSON does not map the alias: "roles" stays the string "roles".
type Namespace string

const (
	NamespaceWorkflows          Namespace = "workflows"
	NamespaceEntities           Namespace = "entities"
	NamespaceEntityDefinitions  Namespace = "entity_definitions"
	NamespaceAPIKeys            Namespace = "api_keys"
	NamespacePermissionSchemes  Namespace = "permission_schemes"
	NamespaceSystem             Namespace = "system"
	NamespaceDashboardStats     Namespace = "dashboard_stats"
)

// ParseNamespace resolves a namespace string, including the "roles"
// alias for NamespacePermissionSchemes.
func ParseNamespace(s string) (Namespace, bool) {
	switch s {
	case string(NamespaceWorkflows):
		return NamespaceWorkflows, true
	case string(NamespaceEntities):
		return NamespaceEntities, true
	case string(NamespaceEntityDefinitions):
		return NamespaceEntityDefinitions, true
	case string(NamespaceAPIKeys):
		return NamespaceAPIKeys, true
	case string(NamespacePermissionSchemes), "roles":
		return NamespacePermissionSchemes, true
	case string(NamespaceSystem):
		return NamespaceSystem, true
	case string(NamespaceDashboardStats):
		return NamespaceDashboardStats, true
	default:
		return "", false
	}
}

// Op is the closed set of permission operations from Execute
// is only legal when Namespace == workflows (enforced in the
// PermissionScheme write path, not here).
type Op string

const (
	OpRead    Op = "Read"
	OpCreate  Op = "Create"
	OpUpdate  Op = "Update"
	OpDelete  Op = "Delete"
	OpPublish Op = "Publish"
	OpAdmin   Op = "Admin"
	OpExecute Op = "Execute"
)

// Lowered returns the op string lowercased, as used in the flattened
// "namespace:op" permission-string emission format.
func (o Op) Lowered() string { return strings.ToLower(string(o)) }

// Constraints carries the optional, entities-only path constraint plus
// any resource-scoping the scheme author attached to a permission.
type Constraints struct {
	Path *string `json:"path,omitempty"`
}

// Permission is the (namespace, op, access_level, resource_uuids?,
// constraints?) tuple AccessLevel is carried for schema
// fidelity with the source model but is not consulted by the
// evaluator (its resolution order does not branch on it).
type Permission struct {
	Namespace     Namespace    `json:"namespace"`
	Op            Op           `json:"op"`
	AccessLevel   string       `json:"access_level,omitempty"`
	ResourceUUIDs []string     `json:"resource_uuids,omitempty"`
	Constraints   *Constraints `json:"constraints,omitempty"`
}

// Equal reports whether two permissions are the "same permission" for
// the purposes of the duplicate-add check in — same
// namespace and op (the source model keys uniqueness on those two
// fields, not on access level or constraints).
func (p Permission) Equal(other Permission) bool {
	return p.Namespace == other.Namespace && p.Op == other.Op
}

// PathConstraint returns the path constraint string, or nil if none.
func (p Permission) PathConstraint() *string {
	if p.Constraints == nil {
		return nil
	}
	return p.Constraints.Path
}

// PermissionScheme is the (uuid, name, description, is_system,
// map<role_name, list<Permission>>) tuple
type PermissionScheme struct {
	UUID        string
	Name        string
	Description string
	IsSystem    bool
	Roles       map[string][]Permission
}

// AddPermission implements the invariant: is_system
// schemes are immutable, Execute is only legal under workflows, and a
// duplicate (namespace, op) permission for a role is rejected.
func (s *PermissionScheme) AddPermission(roleName string, p Permission) error {
	if s.IsSystem {
		return rerrors.Validation("system permission schemes are immutable")
	}
	if p.Op == OpExecute && p.Namespace != NamespaceWorkflows {
		return rerrors.Validation("Execute is only legal for the workflows namespace")
	}
	for _, existing := range s.Roles[roleName] {
		if existing.Equal(p) {
			return rerrors.Validation("duplicate permission for role", rerrors.Violation{
				Field:   "permissions",
				Message: "a permission for this namespace and op already exists on role " + roleName,
			})
		}
	}
	if s.Roles == nil {
		s.Roles = map[string][]Permission{}
	}
	s.Roles[roleName] = append(s.Roles[roleName], p)
	return nil
}

// SetRoles replaces the scheme's entire role/permission map, routing
// every incoming permission through AddPermission so the same
// invariants apply on a bulk write (Create/Update) as on an
// incremental one: no duplicate (namespace, op) permission per role,
// and Execute only legal under workflows. Returns the first violation
// encountered rather than collecting them, since a Create/Update
// request's permissions are an atomic "make it match this" payload,
// not a form with independently addressable fields.
func (s *PermissionScheme) SetRoles(roles map[string][]Permission) error {
	s.Roles = nil
	for roleName, perms := range roles {
		for _, p := range perms {
			if err := s.AddPermission(roleName, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemovePermission removes a (namespace, op) permission from a role.
func (s *PermissionScheme) RemovePermission(roleName string, namespace Namespace, op Op) error {
	if s.IsSystem {
		return rerrors.Validation("system permission schemes are immutable")
	}
	perms := s.Roles[roleName]
	for i, existing := range perms {
		if existing.Namespace == namespace && existing.Op == op {
			s.Roles[roleName] = append(perms[:i], perms[i+1:]...)
			return nil
		}
	}
	return rerrors.NotFound("permission", string(namespace)+":"+string(op))
}
