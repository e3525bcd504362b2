// Package permission implements the PermissionEvaluator, PermissionCache
// and PermissionSchemeStore that decide whether a principal may perform
// an operation, with a Redis-backed, namespaced-key, cache-then-source-
// fallback shape for the cache.
package permission

import (
	"context"
	"strings"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
)

// SchemeSource resolves the permission schemes assigned to a principal.
// Implementations are expected to be cache-backed (see Cache in
// cache.go); the Evaluator itself only consumes the union of
// permissions they return.
type SchemeSource interface {
	MergedPermissions(ctx context.Context, principal entities.Principal) ([]entities.Permission, error)
}

// Evaluator decides allowed(principal, namespace, op, path?) per the
// resolution order
type Evaluator struct {
	schemes SchemeSource
}

func NewEvaluator(schemes SchemeSource) *Evaluator {
	return &Evaluator{schemes: schemes}
}

// Allowed implements its four-step resolution order. path is
// nil for the "no path argument" case.
func (e *Evaluator) Allowed(ctx context.Context, principal entities.Principal, namespace entities.Namespace, op entities.Op, path *string) (bool, error) {
	// Rule 1: SuperAdmin role or superadmin flag always admits.
	if principal.IsSuper() {
		return true, nil
	}

	// Rule 2: union of permissions across every scheme assigned to the
	// principal's role.
	perms, err := e.schemes.MergedPermissions(ctx, principal)
	if err != nil {
		return false, err
	}

	// Rule 3: first matching permission wins.
	for _, p := range perms {
		if p.Namespace != namespace {
			continue
		}

		if p.Op == entities.OpAdmin {
			if namespace == entities.NamespaceEntities && path != nil {
				if MatchPath(p.PathConstraint(), *path) {
					return true, nil
				}
				continue
			}
			return true, nil
		}

		if p.Op != op {
			continue
		}

		if namespace == entities.NamespaceEntities {
			constraint := p.PathConstraint()
			if path != nil {
				if MatchPath(constraint, *path) {
					return true, nil
				}
				continue
			}
			if constraint != nil {
				// Scoped permission can't satisfy an unscoped request.
				continue
			}
			return true, nil
		}

		return true, nil
	}

	// Rule 4: no permission matched.
	return false, nil
}

// MatchPath implements its path-match rules.
//
//   - nil allowed matches any requested path.
//   - exact match.
//   - requested is a proper segment-prefix descendant of allowed
//     (allowed + "/" is a prefix of requested).
//   - allowed ends in "/*": requested must start with
//     allowed-without-suffix + "/" (the wildcard form does NOT match
//     the bare prefix itself; the plain-prefix form above does).
func MatchPath(allowed *string, requested string) bool {
	if allowed == nil {
		return true
	}
	a := *allowed

	if strings.HasSuffix(a, "/*") {
		base := strings.TrimSuffix(a, "/*")
		return strings.HasPrefix(requested, base+"/")
	}

	if requested == a {
		return true
	}

	return strings.HasPrefix(requested, a+"/")
}

// Flatten emits the permission-string embedding format:
// "namespace:op" for non-entities, "entities:<path>:op" when an
// entities permission carries a path constraint. op is lowercased.
func Flatten(perms []entities.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p.Namespace == entities.NamespaceEntities {
			if constraint := p.PathConstraint(); constraint != nil {
				out = append(out, string(p.Namespace)+":"+*constraint+":"+p.Op.Lowered())
				continue
			}
		}
		out = append(out, string(p.Namespace)+":"+p.Op.Lowered())
	}
	return out
}
