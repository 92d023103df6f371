package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/credential"
)

type fakeProvider struct {
	id       string
	closeErr error
	closed   bool
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) ListTools(context.Context, string) ([]ToolDefinition, error) {
	return []ToolDefinition{{Name: f.id + ".noop", ProviderID: f.id}}, nil
}

func (f *fakeProvider) Execute(context.Context, string, map[string]any, credential.Credential) (Result, error) {
	return Result{Data: "ok"}, nil
}

func (f *fakeProvider) Close() error {
	f.closed = true
	return f.closeErr
}

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{name: "simple", input: "mail.send", wantID: "mail", wantAction: "send", wantOK: true},
		{name: "nested action", input: "github.issues.create", wantID: "github", wantAction: "issues.create", wantOK: true},
		{name: "no dot", input: "mail", wantOK: false},
		{name: "empty provider", input: ".send", wantOK: false},
		{name: "empty action", input: "mail.", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, action, ok := SplitToolName(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	mail := &fakeProvider{id: "mail"}
	search := &fakeProvider{id: "search", closeErr: errors.New("boom")}

	require.NoError(t, r.Register(mail))
	require.NoError(t, r.Register(search))

	err := r.Register(&fakeProvider{id: "mail"})
	assert.ErrorIs(t, err, ErrDuplicateProvider)
	assert.Error(t, r.Register(&fakeProvider{id: "bad.id"}))
	assert.Error(t, r.Register(&fakeProvider{id: ""}))
	assert.Error(t, r.Register(nil))

	assert.Equal(t, []string{"mail", "search"}, r.IDs())

	p, action, err := r.Resolve("mail.send")
	require.NoError(t, err)
	assert.Same(t, mail, p)
	assert.Equal(t, "send", action)

	_, _, err = r.Resolve("calendar.create")
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, _, err = r.Resolve("nodot")
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.EqualError(t, r.Close(), "boom")
	assert.True(t, mail.closed)
	assert.True(t, search.closed)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(&fakeProvider{id: "mail"})
	assert.Panics(t, func() { r.MustRegister(&fakeProvider{id: "mail"}) })
}

func TestFindTool(t *testing.T) {
	defs := []ToolDefinition{{Name: "mail.send"}, {Name: "mail.verify"}}

	d, ok := FindTool(defs, "mail.verify")
	assert.True(t, ok)
	assert.Equal(t, "mail.verify", d.Name)

	_, ok = FindTool(defs, "mail.delete")
	assert.False(t, ok)
}
