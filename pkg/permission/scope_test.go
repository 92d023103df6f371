package permission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Scope
		wantErr bool
	}{
		{name: "simple", raw: "mail.send", want: ScopeMailSend},
		{name: "single segment", raw: "admin", want: Scope("admin")},
		{name: "trimmed", raw: "  search.query ", want: ScopeSearchQuery},
		{name: "empty", raw: "", wantErr: true},
		{name: "wildcard", raw: "mail.*", wantErr: true},
		{name: "uppercase", raw: "Mail.Send", wantErr: true},
		{name: "empty segment", raw: "mail..send", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScope(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeScope(t *testing.T) {
	assert.Equal(t, Scope("github.create_issue"), SanitizeScope("github.Create Issue"))
	assert.Equal(t, Scope("files.read"), SanitizeScope("files..read."))
	assert.Equal(t, Scope("_"), SanitizeScope("   "))

	_, err := ParseScope(string(SanitizeScope("weird/Tool:Name")))
	assert.NoError(t, err)
}

func TestScopeSet(t *testing.T) {
	t.Run("keeps first occurrence order", func(t *testing.T) {
		set := NewScopeSet(ScopeMailSend, ScopeMailRead, ScopeMailSend)
		assert.Equal(t, 2, set.Len())
		assert.Equal(t, []string{"mail.send", "mail.read"}, set.Strings())
	})

	t.Run("containment", func(t *testing.T) {
		granted := NewScopeSet(ScopeMailSend, ScopeSearchQuery)
		assert.True(t, granted.ContainsAll(NewScopeSet(ScopeMailSend)))
		assert.True(t, granted.ContainsAll(NewScopeSet()))
		assert.False(t, granted.ContainsAll(NewScopeSet(ScopeMailSend, ScopeMailRead)))
		assert.Equal(t, []Scope{ScopeMailRead}, granted.Missing(NewScopeSet(ScopeMailRead, ScopeMailSend)))
	})

	t.Run("zero value is empty", func(t *testing.T) {
		var set ScopeSet
		assert.Equal(t, 0, set.Len())
		assert.False(t, set.Contains(ScopeMailSend))
		assert.Equal(t, []Scope{ScopeMailSend}, set.Missing(NewScopeSet(ScopeMailSend)))
	})

	t.Run("json round trip", func(t *testing.T) {
		data, err := json.Marshal(NewScopeSet(ScopeMailSend, ScopeMailRead))
		require.NoError(t, err)
		assert.JSONEq(t, `["mail.send","mail.read"]`, string(data))

		var decoded ScopeSet
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.True(t, decoded.Contains(ScopeMailRead))

		assert.Error(t, json.Unmarshal([]byte(`["bad scope"]`), &decoded))
	})
}
