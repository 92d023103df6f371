package daemon

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/provider"
	"github.com/harun/toolgate/pkg/provider/mail"
	"github.com/harun/toolgate/pkg/provider/mcp"
	"github.com/harun/toolgate/pkg/provider/search"
)

const clientName = "toolgate"

// openCredentials loads the credentials file. Sealed secrets are opened with
// the key read from cfg.KeyEnv when that variable is set.
func openCredentials(cfg config.CredentialsConfig, log zerolog.Logger, onReload func()) (*credential.FileResolver, error) {
	opts := credential.FileOptions{Logger: log, OnReload: onReload}

	if cfg.KeyEnv != "" {
		if raw := os.Getenv(cfg.KeyEnv); raw != "" {
			key, err := credential.ParseKey(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid secret key in %s: %w", cfg.KeyEnv, err)
			}
			opts.Key = key
		}
	}

	r, err := credential.NewFileResolver(cfg.File, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	return r, nil
}

// openAuditStore opens the configured execution record store.
func openAuditStore(cfg config.AuditConfig) (auditlog.Store, error) {
	switch cfg.Driver {
	case config.AuditDriverMemory:
		return auditlog.NewMemoryStore(), nil
	case config.AuditDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		store, err := auditlog.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

// buildRegistry registers every enabled provider. Connection ownership comes
// from the credential store so discovery skips foreign connections.
func buildRegistry(cfg config.ProvidersConfig, conns credential.ConnectionChecker, log *logger.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Mail.Enabled {
		p := mail.New(mail.Options{
			Transport:       mail.NewSMTPTransport(cfg.Mail.DialTimeout),
			Connections:     conns,
			Logger:          log.Component("provider.mail"),
			MessageIDDomain: cfg.Mail.MessageIDDomain,
		})
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.Search.Enabled {
		p := search.New(search.Options{
			Endpoint:    cfg.Search.Endpoint,
			HTTPClient:  &http.Client{Timeout: cfg.Search.Timeout},
			Connections: conns,
			Logger:      log.Component("provider.search"),
		})
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	for _, sc := range cfg.MCP {
		p, err := mcp.New(mcp.ServerConfig{
			ID:             sc.ID,
			Transport:      sc.Transport,
			Command:        sc.Command,
			Args:           sc.Args,
			Env:            sc.Env,
			URL:            sc.URL,
			Headers:        sc.Headers,
			ScopeOverrides: sc.Scopes,
			InitTimeout:    sc.InitTimeout,
		}, mcp.Options{
			Connections:   conns,
			Logger:        log.Component("provider.mcp").With().Str("server", sc.ID).Logger(),
			ClientName:    clientName,
			ClientVersion: Version,
		})
		if err != nil {
			_ = registry.Close()
			return nil, fmt.Errorf("mcp server %s: %w", sc.ID, err)
		}
		if err := registry.Register(p); err != nil {
			_ = registry.Close()
			return nil, err
		}
	}

	return registry, nil
}
