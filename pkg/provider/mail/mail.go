// Package mail exposes SMTP delivery as the "mail" provider.
//
// The connection's credential carries the SMTP password as its secret and
// the server settings as metadata:
//
//	host      SMTP server host (required)
//	port      SMTP port, default 587
//	username  login name, defaults to from
//	from      envelope and header sender (required)
//	tls       "starttls" (default), "implicit" or "none"
package mail

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
)

const (
	// ProviderID is the registry id of the mail provider.
	ProviderID = "mail"

	ToolSend   = "mail.send"
	ToolVerify = "mail.verify"

	defaultPort = 587
)

// TLSMode selects how the SMTP session is secured.
type TLSMode string

const (
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "implicit"
	TLSNone     TLSMode = "none"
)

// ServerConfig is the SMTP session configuration derived from a credential.
type ServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      TLSMode
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Message is an outgoing mail.
type Message struct {
	ID      string
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
	HTML    bool
	Date    time.Time
}

// Recipients returns every envelope recipient.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// VerifyResult reports what the server said about an address.
type VerifyResult struct {
	Address string `json:"address"`
	Status  string `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// Verify statuses.
const (
	VerifyDeliverable = "deliverable"
	VerifyUnknown     = "unknown"
	VerifyRejected    = "rejected"
)

// Transport delivers messages to an SMTP server.
type Transport interface {
	Send(ctx context.Context, cfg ServerConfig, msg Message) error
	Verify(ctx context.Context, cfg ServerConfig, address string) (VerifyResult, error)
}

// Options configures the provider.
type Options struct {
	// Transport defaults to an SMTP transport over net/smtp.
	Transport Transport
	// Connections, if set, restricts discovery to known mail connections.
	Connections credential.ConnectionChecker
	Logger      zerolog.Logger
	// MessageIDDomain is used in generated Message-ID headers. Defaults to the from domain.
	MessageIDDomain string
}

// Provider is the mail capability provider.
type Provider struct {
	transport Transport
	opts      Options
	tools     []provider.ToolDefinition
	now       func() time.Time
}

// New creates the mail provider.
func New(opts Options) *Provider {
	t := opts.Transport
	if t == nil {
		t = NewSMTPTransport(30 * time.Second)
	}
	return &Provider{
		transport: t,
		opts:      opts,
		tools:     toolDefinitions(),
		now:       time.Now,
	}
}

func toolDefinitions() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		{
			Name:        ToolSend,
			ProviderID:  ProviderID,
			Description: "Send an email from the connected mailbox",
			ParameterSchema: provider.ObjectSchema(
				provider.Parameter{Name: "to", Type: "string", Description: "Comma separated recipient addresses", Required: true},
				provider.Parameter{Name: "cc", Type: "string", Description: "Comma separated carbon copy addresses"},
				provider.Parameter{Name: "subject", Type: "string", Description: "Subject line", Required: true},
				provider.Parameter{Name: "body", Type: "string", Description: "Message body"},
				provider.Parameter{Name: "format", Type: "string", Description: "Body format", Enum: []string{"text", "html"}, Default: "text"},
			),
			RequiredScopes: permission.NewScopeSet(permission.ScopeMailSend),
		},
		{
			Name:        ToolVerify,
			ProviderID:  ProviderID,
			Description: "Check whether the mail server accepts an address",
			ParameterSchema: provider.ObjectSchema(
				provider.Parameter{Name: "address", Type: "string", Description: "Address to verify", Required: true},
			),
			RequiredScopes: permission.NewScopeSet(permission.ScopeMailRead),
		},
	}
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return ProviderID }

// ListTools implements provider.Provider.
func (p *Provider) ListTools(_ context.Context, connectionID string) ([]provider.ToolDefinition, error) {
	if p.opts.Connections != nil && !p.opts.Connections.HasConnection(ProviderID, connectionID) {
		return nil, fmt.Errorf("%w: %s is not a mail connection", provider.ErrInvalidConnection, connectionID)
	}
	out := make([]provider.ToolDefinition, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

// Execute implements provider.Provider.
func (p *Provider) Execute(ctx context.Context, toolName string, args map[string]any, cred credential.Credential) (provider.Result, error) {
	cfg, err := serverConfig(cred)
	if err != nil {
		return provider.Result{}, err
	}

	switch toolName {
	case ToolSend:
		return p.send(ctx, cfg, args)
	case ToolVerify:
		return p.verify(ctx, cfg, args)
	default:
		return provider.Result{}, fmt.Errorf("%w: %s", provider.ErrToolNotFound, toolName)
	}
}

func (p *Provider) send(ctx context.Context, cfg ServerConfig, args map[string]any) (provider.Result, error) {
	to, err := addressList(stringArg(args, "to"))
	if err != nil || len(to) == 0 {
		return provider.Result{}, fmt.Errorf("%w: to must list at least one valid address", provider.ErrInvalidArguments)
	}
	cc, err := addressList(stringArg(args, "cc"))
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: invalid cc address", provider.ErrInvalidArguments)
	}
	subject := stringArg(args, "subject")
	if strings.ContainsAny(subject, "\r\n") {
		return provider.Result{}, fmt.Errorf("%w: subject must be a single line", provider.ErrInvalidArguments)
	}

	msg := Message{
		ID:      p.messageID(cfg.From),
		From:    cfg.From,
		To:      to,
		Cc:      cc,
		Subject: subject,
		Body:    stringArg(args, "body"),
		HTML:    stringArg(args, "format") == "html",
		Date:    p.now(),
	}

	if err := p.transport.Send(ctx, cfg, msg); err != nil {
		return provider.Result{}, err
	}

	p.opts.Logger.Info().
		Str("message_id", msg.ID).
		Int("recipients", len(msg.Recipients())).
		Msg("Mail sent")

	return provider.Result{
		Data: map[string]any{
			"message_id": msg.ID,
			"accepted":   msg.Recipients(),
		},
		Metadata: map[string]string{"smtp_host": cfg.Host},
	}, nil
}

func (p *Provider) verify(ctx context.Context, cfg ServerConfig, args map[string]any) (provider.Result, error) {
	addr, err := mail.ParseAddress(stringArg(args, "address"))
	if err != nil {
		return provider.Result{Data: VerifyResult{
			Address: stringArg(args, "address"),
			Status:  VerifyRejected,
			Detail:  "malformed address",
		}}, nil
	}

	res, err := p.transport.Verify(ctx, cfg, addr.Address)
	if err != nil {
		return provider.Result{}, err
	}
	return provider.Result{Data: res}, nil
}

func (p *Provider) messageID(from string) string {
	domain := p.opts.MessageIDDomain
	if domain == "" {
		if _, d, ok := strings.Cut(from, "@"); ok {
			domain = d
		} else {
			domain = "localhost"
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func serverConfig(cred credential.Credential) (ServerConfig, error) {
	md := cred.Metadata
	cfg := ServerConfig{
		Host:     md["host"],
		Port:     defaultPort,
		Username: md["username"],
		Password: cred.Secret,
		From:     md["from"],
		TLS:      TLSMode(strings.ToLower(md["tls"])),
	}
	if cfg.Host == "" || cfg.From == "" {
		return ServerConfig{}, fmt.Errorf("%w: connection %s lacks host or from", provider.ErrInvalidConnection, cred.ConnectionID)
	}
	if raw := md["port"]; raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return ServerConfig{}, fmt.Errorf("%w: connection %s has invalid port %q", provider.ErrInvalidConnection, cred.ConnectionID, raw)
		}
		cfg.Port = port
	}
	if cfg.Username == "" {
		cfg.Username = cfg.From
	}
	switch cfg.TLS {
	case "":
		cfg.TLS = TLSStartTLS
	case TLSStartTLS, TLSImplicit, TLSNone:
	default:
		return ServerConfig{}, fmt.Errorf("%w: connection %s has unknown tls mode %q", provider.ErrInvalidConnection, cred.ConnectionID, cfg.TLS)
	}
	return cfg, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func addressList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out, nil
}
