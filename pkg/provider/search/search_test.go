package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

func newSearchServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_ListTools(t *testing.T) {
	p := New(Options{Logger: zerolog.Nop()})
	tools, err := p.ListTools(context.Background(), "C1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ToolWeb, tools[0].Name)
	assert.True(t, tools[0].RequiredScopes.Contains(permission.ScopeSearchQuery))

	conns := credential.NewStaticResolver(credential.Credential{ConnectionID: "C1", ProviderID: "mail"})
	p = New(Options{Connections: conns, Logger: zerolog.Nop()})
	_, err = p.ListTools(context.Background(), "C1")
	assert.ErrorIs(t, err, provider.ErrInvalidConnection)
}

func TestProvider_Execute(t *testing.T) {
	srv := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"results": []Hit{
				{Title: "Go", URL: "https://go.dev"},
				{Title: "Tour", URL: "https://go.dev/tour"},
				{Title: "Extra", URL: "https://example.com"},
			},
		})
	})

	p := New(Options{Endpoint: srv.URL, Logger: zerolog.Nop()})
	res, err := p.Execute(context.Background(), ToolWeb,
		map[string]any{"query": "golang", "count": float64(2)},
		credential.Credential{ConnectionID: "C1", Secret: "key-1"})
	require.NoError(t, err)

	out := res.Data.(Response)
	assert.Equal(t, "golang", out.Query)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "https://go.dev", out.Results[0].URL)
}

func TestProvider_EndpointFromConnection(t *testing.T) {
	srv := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	p := New(Options{Logger: zerolog.Nop()})
	res, err := p.Execute(context.Background(), ToolWeb, map[string]any{"query": "x"},
		credential.Credential{Metadata: map[string]string{"endpoint": srv.URL}})
	require.NoError(t, err)
	assert.Empty(t, res.Data.(Response).Results)

	_, err = p.Execute(context.Background(), ToolWeb, map[string]any{"query": "x"}, credential.Credential{})
	assert.ErrorIs(t, err, provider.ErrInvalidConnection)
}

func TestProvider_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{status: http.StatusUnauthorized, want: provider.ErrInvalidConnection},
		{status: http.StatusForbidden, want: provider.ErrInvalidConnection},
		{status: http.StatusTooManyRequests, want: provider.ErrProviderUnavailable},
		{status: http.StatusBadGateway, want: provider.ErrProviderUnavailable},
		{status: http.StatusBadRequest, want: provider.ErrProviderError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			p := New(Options{Endpoint: srv.URL, Logger: zerolog.Nop()})
			_, err := p.Execute(context.Background(), ToolWeb, map[string]any{"query": "x"}, credential.Credential{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProvider_BadPayload(t *testing.T) {
	srv := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	p := New(Options{Endpoint: srv.URL, Logger: zerolog.Nop()})
	_, err := p.Execute(context.Background(), ToolWeb, map[string]any{"query": "x"}, credential.Credential{})
	assert.ErrorIs(t, err, provider.ErrProviderError)
}

func TestProvider_Cancellation(t *testing.T) {
	release := make(chan struct{})
	srv := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	p := New(Options{Endpoint: srv.URL, Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, ToolWeb, map[string]any{"query": "x"}, credential.Credential{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCountArg(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    int
		wantErr bool
	}{
		{name: "default", in: nil, want: defaultCount},
		{name: "int", in: 3, want: 3},
		{name: "float", in: float64(7), want: 7},
		{name: "json number", in: json.Number("4"), want: 4},
		{name: "fraction", in: 2.5, wantErr: true},
		{name: "zero", in: 0, wantErr: true},
		{name: "too many", in: 50, wantErr: true},
		{name: "string", in: "5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := countArg(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, provider.ErrInvalidArguments)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
