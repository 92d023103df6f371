// Package search exposes a JSON web search API as the "search" provider.
//
// The credential secret is sent as a bearer token. A connection may point at a
// different endpoint through the "endpoint" metadata key.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

const (
	// ProviderID is the registry id of the search provider.
	ProviderID = "search"

	ToolWeb = "search.web"

	defaultCount = 5
	maxCount     = 20
	maxBodyBytes = 1 << 20
)

// Options configures the provider.
type Options struct {
	// Endpoint is the default search URL. Queries are sent as GET ?q=&count=.
	Endpoint    string
	HTTPClient  *http.Client
	Connections credential.ConnectionChecker
	Logger      zerolog.Logger
}

// Hit is one search result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is the result payload of search.web.
type Response struct {
	Query   string `json:"query"`
	Results []Hit  `json:"results"`
}

// Provider is the web search capability provider.
type Provider struct {
	opts   Options
	client *http.Client
	tools  []provider.ToolDefinition
}

// New creates the search provider.
func New(opts Options) *Provider {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		opts:   opts,
		client: client,
		tools: []provider.ToolDefinition{{
			Name:        ToolWeb,
			ProviderID:  ProviderID,
			Description: "Search the web and return the top results",
			ParameterSchema: provider.ObjectSchema(
				provider.Parameter{Name: "query", Type: "string", Description: "Search query", Required: true},
				provider.Parameter{Name: "count", Type: "integer", Description: "Number of results (1-20)", Default: defaultCount},
			),
			RequiredScopes: permission.NewScopeSet(permission.ScopeSearchQuery),
		}},
	}
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return ProviderID }

// ListTools implements provider.Provider.
func (p *Provider) ListTools(_ context.Context, connectionID string) ([]provider.ToolDefinition, error) {
	if p.opts.Connections != nil && !p.opts.Connections.HasConnection(ProviderID, connectionID) {
		return nil, fmt.Errorf("%w: %s is not a search connection", provider.ErrInvalidConnection, connectionID)
	}
	out := make([]provider.ToolDefinition, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

// Execute implements provider.Provider.
func (p *Provider) Execute(ctx context.Context, toolName string, args map[string]any, cred credential.Credential) (provider.Result, error) {
	if toolName != ToolWeb {
		return provider.Result{}, fmt.Errorf("%w: %s", provider.ErrToolNotFound, toolName)
	}

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return provider.Result{}, fmt.Errorf("%w: query is required", provider.ErrInvalidArguments)
	}
	count, err := countArg(args["count"])
	if err != nil {
		return provider.Result{}, err
	}

	endpoint := cred.Metadata["endpoint"]
	if endpoint == "" {
		endpoint = p.opts.Endpoint
	}
	if endpoint == "" {
		return provider.Result{}, fmt.Errorf("%w: no search endpoint configured", provider.ErrInvalidConnection)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: invalid endpoint: %v", provider.ErrInvalidConnection, err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: build request: %v", provider.ErrProviderError, err)
	}
	req.Header.Set("Accept", "application/json")
	if cred.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provider.Result{}, ctxErr
		}
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return provider.Result{}, fmt.Errorf("%w: %v", provider.ErrTimeout, err)
		}
		return provider.Result{}, fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: read response: %v", provider.ErrProviderError, err)
	}

	if err := statusError(resp.StatusCode); err != nil {
		p.opts.Logger.Warn().
			Int("status", resp.StatusCode).
			Str("connection_id", cred.ConnectionID).
			Msg("Search request failed")
		return provider.Result{}, err
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return provider.Result{}, fmt.Errorf("%w: decode response: %v", provider.ErrProviderError, err)
	}
	out.Query = query
	if len(out.Results) > count {
		out.Results = out.Results[:count]
	}
	if out.Results == nil {
		out.Results = []Hit{}
	}

	p.opts.Logger.Debug().
		Int("results", len(out.Results)).
		Dur("duration", time.Since(start)).
		Msg("Search completed")

	return provider.Result{
		Data:     out,
		Metadata: map[string]string{"endpoint_host": u.Host},
	}, nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: search API rejected the credential (%d)", provider.ErrInvalidConnection, code)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: search API returned %d", provider.ErrProviderUnavailable, code)
	default:
		return fmt.Errorf("%w: search API returned %d", provider.ErrProviderError, code)
	}
}

func countArg(v any) (int, error) {
	var n int
	switch c := v.(type) {
	case nil:
		return defaultCount, nil
	case int:
		n = c
	case int64:
		n = int(c)
	case float64:
		if c != float64(int(c)) {
			return 0, fmt.Errorf("%w: count must be an integer", provider.ErrInvalidArguments)
		}
		n = int(c)
	case json.Number:
		i, err := c.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: count must be an integer", provider.ErrInvalidArguments)
		}
		n = int(i)
	default:
		return 0, fmt.Errorf("%w: count must be an integer", provider.ErrInvalidArguments)
	}
	if n < 1 || n > maxCount {
		return 0, fmt.Errorf("%w: count must be between 1 and %d", provider.ErrInvalidArguments, maxCount)
	}
	return n, nil
}
