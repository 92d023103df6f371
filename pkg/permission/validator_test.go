package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockGrantSource struct {
	mock.Mock
}

func (m *mockGrantSource) Grant(ctx context.Context, agentID, connectionID string) (Grant, error) {
	args := m.Called(ctx, agentID, connectionID)
	return args.Get(0).(Grant), args.Error(1)
}

func newTestValidator(grants GrantSource) *Validator {
	return NewValidator(grants, zerolog.Nop())
}

func TestValidator_Validate(t *testing.T) {
	ctx := context.Background()
	mailSend := NewScopeSet(ScopeMailSend)

	tests := []struct {
		name          string
		grant         Grant
		err           error
		required      ScopeSet
		wantAllowed   bool
		wantViolation string
	}{
		{
			name:        "all scopes granted",
			grant:       Grant{AgentID: "A1", ConnectionID: "C1", GrantedScopes: mailSend, Active: true},
			required:    mailSend,
			wantAllowed: true,
		},
		{
			name:          "empty grant",
			grant:         Grant{AgentID: "A2", ConnectionID: "C1", Active: true},
			required:      mailSend,
			wantViolation: ViolationMissingScope,
		},
		{
			name:          "inactive grant",
			grant:         Grant{AgentID: "A1", ConnectionID: "C1", GrantedScopes: mailSend, Active: false},
			required:      mailSend,
			wantViolation: ViolationInactive,
		},
		{
			name:          "grant not found",
			err:           ErrGrantNotFound,
			required:      mailSend,
			wantViolation: ViolationNoGrant,
		},
		{
			name:          "lookup failure",
			err:           errors.New("storage offline"),
			required:      mailSend,
			wantViolation: ViolationLookup,
		},
		{
			name:        "no scopes required",
			grant:       Grant{AgentID: "A1", ConnectionID: "C1", Active: true},
			required:    NewScopeSet(),
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockGrantSource{}
			src.On("Grant", ctx, "A1", "C1").Return(tt.grant, tt.err)

			d := newTestValidator(src).Validate(ctx, "A1", tt.required, "C1")

			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantViolation, d.ViolationType)
			if tt.wantAllowed {
				assert.NoError(t, d.Err())
			} else {
				assert.ErrorIs(t, d.Err(), ErrPermissionDenied)
				assert.NotEmpty(t, d.Reason)
			}
			src.AssertExpectations(t)
		})
	}
}

func TestValidator_MissingScopesReported(t *testing.T) {
	src := GrantSourceFunc(func(ctx context.Context, agentID, connectionID string) (Grant, error) {
		return Grant{GrantedScopes: NewScopeSet(ScopeMailRead), Active: true}, nil
	})

	d := newTestValidator(src).Validate(context.Background(), "A1", NewScopeSet(ScopeMailSend, ScopeMailRead, ScopeSearchQuery), "C1")

	assert.False(t, d.Allowed)
	assert.Equal(t, []Scope{ScopeMailSend, ScopeSearchQuery}, d.Missing)
	assert.Contains(t, d.Reason, "mail.send")
	assert.Contains(t, d.Reason, "search.query")
}

func TestValidator_NilSource(t *testing.T) {
	d := newTestValidator(nil).Validate(context.Background(), "A1", NewScopeSet(), "C1")
	assert.False(t, d.Allowed)
	assert.Equal(t, ViolationNoGrant, d.ViolationType)
}
