// Package mcp adapts Model Context Protocol tool servers to the provider contract.
//
// Each configured server becomes its own provider. Remote tools are exposed as
// "<provider_id>.<tool>" and, unless overridden, require the scope of the same name.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const maxListPages = 50

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	ID        string
	Transport string
	// Command, Args and Env start a stdio server.
	Command string
	Args    []string
	Env     map[string]string
	// URL and Headers reach a streamable HTTP server.
	URL     string
	Headers map[string]string
	// ScopeOverrides maps a remote tool name to the scopes it requires.
	ScopeOverrides map[string][]string
	// InitTimeout bounds the initialize handshake. Defaults to 15s.
	InitTimeout time.Duration
}

// Client is the subset of the mcp-go client used by the provider.
type Client interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ClientFactory opens a client for cfg. The returned client must be started but not initialized.
type ClientFactory func(ctx context.Context, cfg ServerConfig) (Client, error)

// Options configures a Provider.
type Options struct {
	Factory     ClientFactory
	Connections credential.ConnectionChecker
	Logger      zerolog.Logger
	// ClientName is reported in the initialize handshake.
	ClientName    string
	ClientVersion string
}

// Provider forwards calls to one MCP server.
type Provider struct {
	cfg  ServerConfig
	opts Options

	mu     sync.Mutex
	client Client
}

// New validates cfg and returns a provider. The server is contacted lazily.
func New(cfg ServerConfig, opts Options) (*Provider, error) {
	if cfg.ID == "" || strings.Contains(cfg.ID, ".") {
		return nil, fmt.Errorf("mcp server id %q is invalid", cfg.ID)
	}
	switch cfg.Transport {
	case "", TransportStdio:
		cfg.Transport = TransportStdio
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %s: command is required for stdio transport", cfg.ID)
		}
	case TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %s: url is required for http transport", cfg.ID)
		}
	default:
		return nil, fmt.Errorf("mcp server %s: unknown transport %q", cfg.ID, cfg.Transport)
	}
	for tool, scopes := range cfg.ScopeOverrides {
		if _, err := permission.ParseScopeSet(scopes); err != nil {
			return nil, fmt.Errorf("mcp server %s: scope override for %s: %w", cfg.ID, tool, err)
		}
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 15 * time.Second
	}
	if opts.Factory == nil {
		opts.Factory = DefaultClientFactory
	}
	if opts.ClientName == "" {
		opts.ClientName = "toolgate"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "0.1.0"
	}
	return &Provider{cfg: cfg, opts: opts}, nil
}

// DefaultClientFactory opens a real mcp-go client.
func DefaultClientFactory(ctx context.Context, cfg ServerConfig) (Client, error) {
	switch cfg.Transport {
	case TransportHTTP:
		c, err := client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, err
		}
		return c, nil
	default:
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	}
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return p.cfg.ID }

// ListTools implements provider.Provider.
func (p *Provider) ListTools(ctx context.Context, connectionID string) ([]provider.ToolDefinition, error) {
	if p.opts.Connections != nil && !p.opts.Connections.HasConnection(p.cfg.ID, connectionID) {
		return nil, fmt.Errorf("%w: %s is not a %s connection", provider.ErrInvalidConnection, connectionID, p.cfg.ID)
	}

	c, err := p.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	var defs []provider.ToolDefinition
	var cursor mcp.Cursor
	for page := 0; page < maxListPages; page++ {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor

		res, err := c.ListTools(ctx, req)
		if err != nil {
			p.reset(c)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s tools/list: %v", provider.ErrProviderUnavailable, p.cfg.ID, err)
		}
		for _, t := range res.Tools {
			def, err := p.definition(t)
			if err != nil {
				p.opts.Logger.Warn().Err(err).Str("provider", p.cfg.ID).Str("tool", t.Name).Msg("Skipping remote tool")
				continue
			}
			defs = append(defs, def)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	return defs, nil
}

// Execute implements provider.Provider.
func (p *Provider) Execute(ctx context.Context, toolName string, args map[string]any, _ credential.Credential) (provider.Result, error) {
	remote, ok := strings.CutPrefix(toolName, p.cfg.ID+".")
	if !ok || remote == "" {
		return provider.Result{}, fmt.Errorf("%w: %s", provider.ErrToolNotFound, toolName)
	}

	c, err := p.ensureClient(ctx)
	if err != nil {
		return provider.Result{}, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = remote
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return provider.Result{}, ctx.Err()
		}
		p.reset(c)
		return provider.Result{}, fmt.Errorf("%w: %s tools/call: %v", provider.ErrProviderError, p.cfg.ID, err)
	}

	data, texts, other := decodeContent(res.Content)
	if res.IsError {
		return provider.Result{}, fmt.Errorf("%w: %s", provider.ErrProviderError, strings.Join(texts, "\n"))
	}

	result := provider.Result{Data: data}
	if other > 0 {
		result.Metadata = map[string]string{"non_text_items": fmt.Sprint(other)}
	}
	return result, nil
}

// Close shuts the server connection down.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Provider) ensureClient(ctx context.Context) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	c, err := p.opts.Factory(ctx, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", provider.ErrProviderUnavailable, p.cfg.ID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, p.cfg.InitTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: p.opts.ClientName, Version: p.opts.ClientVersion}

	info, err := c.Initialize(initCtx, req)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: initialize %s: %v", provider.ErrProviderUnavailable, p.cfg.ID, err)
	}

	p.opts.Logger.Info().
		Str("provider", p.cfg.ID).
		Str("server", info.ServerInfo.Name).
		Str("protocol", info.ProtocolVersion).
		Msg("MCP server connected")

	p.client = c
	return c, nil
}

// reset drops c so the next call reconnects.
func (p *Provider) reset(c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == c {
		p.client.Close()
		p.client = nil
	}
}

func (p *Provider) definition(t mcp.Tool) (provider.ToolDefinition, error) {
	schema := t.RawInputSchema
	if len(schema) == 0 {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return provider.ToolDefinition{}, fmt.Errorf("marshal input schema: %w", err)
		}
		schema = raw
	}

	var scopes permission.ScopeSet
	if override, ok := p.cfg.ScopeOverrides[t.Name]; ok {
		parsed, err := permission.ParseScopeSet(override)
		if err != nil {
			return provider.ToolDefinition{}, err
		}
		scopes = parsed
	} else {
		scopes = permission.NewScopeSet(permission.SanitizeScope(p.cfg.ID + "." + t.Name))
	}

	return provider.ToolDefinition{
		Name:            p.cfg.ID + "." + t.Name,
		ProviderID:      p.cfg.ID,
		Description:     t.Description,
		ParameterSchema: schema,
		RequiredScopes:  scopes,
	}, nil
}

// decodeContent flattens tool output. A single JSON text item is decoded.
func decodeContent(content []mcp.Content) (any, []string, int) {
	var texts []string
	other := 0
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		default:
			other++
		}
	}

	if len(texts) == 1 {
		var decoded any
		if json.Valid([]byte(texts[0])) && json.Unmarshal([]byte(texts[0]), &decoded) == nil {
			if _, isObj := decoded.(map[string]any); isObj {
				return decoded, texts, other
			}
			if _, isArr := decoded.([]any); isArr {
				return decoded, texts, other
			}
		}
		return texts[0], texts, other
	}
	return strings.Join(texts, "\n"), texts, other
}
