// Package permission decides whether an agent may invoke a tool on a connection.
//
// Invariants:
// - A call is allowed only when a grant exists for (agent, connection), the grant is
//   active, and its scopes contain every scope the tool requires.
// - Scopes are compared by exact set containment. There are no wildcards.
// - Validation has no side effects other than logging.
//
// Usage:
//
//	v := permission.NewValidator(grants, logger)
//	d := v.Validate(ctx, "A1", permission.NewScopeSet(permission.ScopeMailSend), "C1")
//	if !d.Allowed {
//		return d.Err()
//	}
package permission
