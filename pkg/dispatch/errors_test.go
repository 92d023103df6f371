package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"permission", fmt.Errorf("%w: missing scopes", permission.ErrPermissionDenied), KindPermissionDenied},
		{"invalid request", fmt.Errorf("%w: missing agent_id", ErrInvalidRequest), KindInvalidArguments},
		{"invalid arguments", fmt.Errorf("%w: to is required", provider.ErrInvalidArguments), KindInvalidArguments},
		{"tool not found", provider.ErrToolNotFound, KindToolNotFound},
		{"credential not found", credential.ErrCredentialNotFound, KindCredentialNotFound},
		{"credential expired", credential.ErrCredentialExpired, KindCredentialExpired},
		{"invalid connection", provider.ErrInvalidConnection, KindInvalidConnection},
		{"unavailable", provider.ErrProviderUnavailable, KindProviderUnavailable},
		{"unavailable wrapping deadline", errors.Join(provider.ErrProviderUnavailable, context.DeadlineExceeded), KindProviderUnavailable},
		{"provider timeout", provider.ErrTimeout, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"cancelled", fmt.Errorf("%w: context canceled", ErrCancelled), KindCancelled},
		{"context canceled", context.Canceled, KindCancelled},
		{"provider error", fmt.Errorf("relay: %w", provider.ErrProviderError), KindProviderError},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKind_Retryable(t *testing.T) {
	retryable := map[Kind]bool{
		KindProviderUnavailable: true,
		KindProviderError:       true,
		KindTimeout:             true,
	}
	for kind := range kindMessages {
		assert.Equal(t, retryable[kind], kind.Retryable(), kind)
	}
}

func TestKind_Message(t *testing.T) {
	assert.Equal(t, "tool not found", KindToolNotFound.Message())
	assert.Equal(t, KindInternal.Message(), Kind("Bogus").Message())
}

func TestResult_Kind(t *testing.T) {
	assert.Equal(t, Kind(""), Result{Success: true, Status: StatusSucceeded}.Kind())
	assert.Equal(t, KindDuplicateSuppressed, Result{Success: true, Status: StatusSuppressed}.Kind())
	assert.Equal(t, KindTimeout, Result{Status: StatusFailed, Error: &ErrorInfo{Kind: KindTimeout}}.Kind())
}
