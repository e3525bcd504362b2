// Package entities holds the data model: the shapes that
// flow between repositories, services and the HTTP edge.
package entities

import "time"

// Role is the polymorphic UserRole: either the
// SuperAdmin tag or a Custom(name) role. Comparisons are by tag and,
// for Custom, by the wrapped name — never by a shared base identity.
type Role struct {
	IsSuperAdmin bool
	Name         string // set when !IsSuperAdmin; the custom role name
}

// SuperAdminRole is the well-known SuperAdmin role variant.
func SuperAdminRole() Role { return Role{IsSuperAdmin: true} }

// CustomRole constructs a Custom(name) role variant.
func CustomRole(name string) Role { return Role{Name: name} }

// RoleName returns the string used to key into a PermissionScheme's
// role map: "SuperAdmin" for the superadmin tag, else the custom name.
func (r Role) RoleName() string {
	if r.IsSuperAdmin {
		return "SuperAdmin"
	}
	return r.Name
}

func (r Role) Equal(other Role) bool {
	return r.IsSuperAdmin == other.IsSuperAdmin && r.Name == other.Name
}

// PrincipalKind distinguishes the two Principal variants.
type PrincipalKind string

const (
	PrincipalHumanUser PrincipalKind = "human_user"
	PrincipalAPIKey    PrincipalKind = "api_key"
)

// HumanUser is a human principal: username/password login, a Role, and
// the redundant superadmin flag carried for back-compat ( —
// intentionally not collapsed; either-true is treated as super).
type HumanUser struct {
	UUID              string
	Username          string
	Email             string
	PasswordHash      string
	Role              Role
	IsActive          bool
	IsSuperAdmin      bool
	FailedLoginCount  int
	LockedUntil       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsSuper returns true if either the Role tag or the redundant flag
// marks this user as a super admin.
func (u *HumanUser) IsSuper() bool {
	return u.Role.IsSuperAdmin || u.IsSuperAdmin
}

// IsLocked reports whether the account is currently in lockout.
func (u *HumanUser) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// APIKey is a machine principal. Only the SHA-256 hash of
// the plaintext key is ever persisted.
type APIKey struct {
	UUID               string
	OwnerPrincipalUUID string
	Name               string
	KeyHash            string
	ExpiresAt          *time.Time
	CreatedAt          time.Time
	Revoked            bool
}

// Valid reports whether the key is usable at `now`: not revoked and
// (if an expiry is set) not expired.
func (k *APIKey) Valid(now time.Time) bool {
	if k.Revoked {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// Principal is the union accepted by the credential/token/permission
// services: whichever of HumanUser or APIKey is non-nil is the active
// variant (Go has no sum types; this mirrors the Rust enum's shape).
type Principal struct {
	Kind PrincipalKind
	User *HumanUser
	Key  *APIKey
}

// UUID returns the identifying UUID regardless of variant.
func (p Principal) UUID() string {
	if p.User != nil {
		return p.User.UUID
	}
	if p.Key != nil {
		return p.Key.UUID
	}
	return ""
}

// EffectiveRoleName returns the role name used to resolve permission
// schemes. API keys carry no role of their own — they resolve through
// api_key_permission_schemes keyed by the key's own UUID, so the
// "role" concept collapses to a fixed name.
const APIKeyRoleName = "ApiKey"

func (p Principal) EffectiveRoleName() string {
	if p.User != nil {
		return p.User.Role.RoleName()
	}
	return APIKeyRoleName
}

// IsSuper reports superadmin status; API keys are never super admins.
func (p Principal) IsSuper() bool {
	if p.User != nil {
		return p.User.IsSuper()
	}
	return false
}
