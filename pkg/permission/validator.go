package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Violation types reported in a Decision.
const (
	ViolationNoGrant      = "no_grant"
	ViolationInactive     = "inactive_grant"
	ViolationMissingScope = "missing_scope"
	ViolationLookup       = "grant_lookup_failed"
)

// Decision is the result of validating one call.
type Decision struct {
	Allowed       bool
	Reason        string
	ViolationType string
	Missing       []Scope
	Grant         Grant
	LookupErr     error
}

// Err returns nil for an allowed decision and an ErrPermissionDenied-wrapping error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
}

// Validator admits or denies calls against the grants of a GrantSource.
type Validator struct {
	grants GrantSource
	logger zerolog.Logger
}

// NewValidator creates a validator backed by grants.
func NewValidator(grants GrantSource, logger zerolog.Logger) *Validator {
	return &Validator{
		grants: grants,
		logger: logger,
	}
}

// Validate decides whether agentID may use a tool requiring the given scopes on connectionID.
// Denials are logged.
func (v *Validator) Validate(ctx context.Context, agentID string, required ScopeSet, connectionID string) Decision {
	d := v.Check(ctx, agentID, required, connectionID)
	if !d.Allowed {
		v.logDenial(agentID, connectionID, d)
	}
	return d
}

// Check is Validate without logging, for listing what an agent could call.
func (v *Validator) Check(ctx context.Context, agentID string, required ScopeSet, connectionID string) Decision {
	if v.grants == nil {
		return deny(Decision{
			Reason:        "no grant source configured",
			ViolationType: ViolationNoGrant,
		})
	}

	grant, err := v.grants.Grant(ctx, agentID, connectionID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return deny(Decision{
				Reason:        fmt.Sprintf("no grant for agent %q on connection %q", agentID, connectionID),
				ViolationType: ViolationNoGrant,
			})
		}
		return deny(Decision{
			Reason:        "grant lookup failed",
			ViolationType: ViolationLookup,
			LookupErr:     err,
		})
	}

	if !grant.Active {
		return deny(Decision{
			Reason:        fmt.Sprintf("grant for agent %q on connection %q is inactive", agentID, connectionID),
			ViolationType: ViolationInactive,
			Grant:         grant,
		})
	}

	if missing := grant.GrantedScopes.Missing(required); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		return deny(Decision{
			Reason:        "missing scopes: " + strings.Join(names, ", "),
			ViolationType: ViolationMissingScope,
			Missing:       missing,
			Grant:         grant,
		})
	}

	return Decision{
		Allowed: true,
		Reason:  "all required scopes granted",
		Grant:   grant,
	}
}

func deny(d Decision) Decision {
	d.Allowed = false
	return d
}

func (v *Validator) logDenial(agentID, connectionID string, d Decision) {
	event := v.logger.Warn().
		Str("agent_id", agentID).
		Str("connection_id", connectionID).
		Str("violation_type", d.ViolationType)
	if d.LookupErr != nil {
		event = event.Err(d.LookupErr)
	}
	event.Msg("Permission denied")
}
