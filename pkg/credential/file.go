package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/harun/toolgate/pkg/permission"
)

// fileDocument is the on-disk layout of a credentials file.
type fileDocument struct {
	Connections []fileConnection `yaml:"connections"`
}

type fileConnection struct {
	ID        string            `yaml:"id"`
	Provider  string            `yaml:"provider"`
	Secret    string            `yaml:"secret"`
	ExpiresAt string            `yaml:"expires_at"`
	Metadata  map[string]string `yaml:"metadata"`
	Grants    []fileGrant       `yaml:"grants"`
}

type fileGrant struct {
	Agent     string   `yaml:"agent"`
	Scopes    []string `yaml:"scopes"`
	Active    *bool    `yaml:"active"`
	GrantedBy string   `yaml:"granted_by"`
}

// FileOptions configures a FileResolver.
type FileOptions struct {
	// Key opens secrets sealed with SealSecret. Plain secrets need no key.
	Key *[32]byte
	// Logger receives reload diagnostics.
	Logger zerolog.Logger
	// OnReload, if set, runs after every successful reload.
	OnReload func()
	// Debounce delays reloads after bursts of file events. Defaults to 250ms.
	Debounce time.Duration
}

// FileResolver serves credentials and grants from a YAML file and can reload it on change.
type FileResolver struct {
	path string
	opts FileOptions
	now  func() time.Time

	mu          sync.RWMutex
	creds       map[credentialKey]Credential
	connections map[string]string // connection id -> provider id

	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	stopped sync.Once
}

// NewFileResolver loads path and returns a resolver serving its content.
func NewFileResolver(path string, opts FileOptions) (*FileResolver, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	r := &FileResolver{
		path:   path,
		opts:   opts,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load re-reads the credentials file. On error the previous content stays in effect.
func (r *FileResolver) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse credentials file: %w", err)
	}

	creds := make(map[credentialKey]Credential)
	connections := make(map[string]string, len(doc.Connections))
	for i, conn := range doc.Connections {
		if conn.ID == "" {
			return fmt.Errorf("connection %d: id is required", i)
		}
		if _, dup := connections[conn.ID]; dup {
			return fmt.Errorf("connection %s: duplicate id", conn.ID)
		}
		connections[conn.ID] = conn.Provider

		secret, err := OpenSecret(r.opts.Key, conn.Secret)
		if err != nil {
			return fmt.Errorf("connection %s: %w", conn.ID, err)
		}

		var expiresAt time.Time
		if conn.ExpiresAt != "" {
			expiresAt, err = time.Parse(time.RFC3339, conn.ExpiresAt)
			if err != nil {
				return fmt.Errorf("connection %s: invalid expires_at: %w", conn.ID, err)
			}
		}

		for _, g := range conn.Grants {
			if g.Agent == "" {
				return fmt.Errorf("connection %s: grant without agent", conn.ID)
			}
			scopes, err := permission.ParseScopeSet(g.Scopes)
			if err != nil {
				return fmt.Errorf("connection %s agent %s: %w", conn.ID, g.Agent, err)
			}
			active := true
			if g.Active != nil {
				active = *g.Active
			}
			creds[credentialKey{g.Agent, conn.ID}] = Credential{
				AgentID:       g.Agent,
				ConnectionID:  conn.ID,
				ProviderID:    conn.Provider,
				Secret:        secret,
				GrantedScopes: scopes,
				Active:        active,
				GrantedBy:     g.GrantedBy,
				ExpiresAt:     expiresAt,
				Metadata:      conn.Metadata,
			}
		}
	}

	r.mu.Lock()
	r.creds = creds
	r.connections = connections
	r.mu.Unlock()

	r.opts.Logger.Info().
		Str("path", r.path).
		Int("connections", len(connections)).
		Int("grants", len(creds)).
		Msg("Credentials loaded")

	return nil
}

// Resolve implements Resolver.
func (r *FileResolver) Resolve(_ context.Context, agentID, connectionID string) (Credential, error) {
	r.mu.RLock()
	c, ok := r.creds[credentialKey{agentID, connectionID}]
	r.mu.RUnlock()
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	if c.Expired(r.now()) {
		return Credential{}, ErrCredentialExpired
	}
	return c, nil
}

// Grant implements permission.GrantSource.
func (r *FileResolver) Grant(_ context.Context, agentID, connectionID string) (permission.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[credentialKey{agentID, connectionID}]
	if !ok {
		return permission.Grant{}, permission.ErrGrantNotFound
	}
	return c.Grant(), nil
}

// HasConnection implements ConnectionChecker.
func (r *FileResolver) HasConnection(providerID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.connections[connectionID]
	return ok && (p == "" || p == providerID)
}

// Watch reloads the file whenever it changes until Close is called.
// The parent directory is watched so editors that replace the file are handled.
func (r *FileResolver) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	go r.run()
	return nil
}

func (r *FileResolver) run() {
	target := filepath.Clean(r.path)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				r.opts.Logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Credentials file change detected")
				r.scheduleReload()
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.opts.Logger.Error().Err(err).Msg("Credentials watcher error")

		case <-r.stopCh:
			return
		}
	}
}

func (r *FileResolver) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.opts.Debounce, func() {
		if err := r.Load(); err != nil {
			r.opts.Logger.Error().Err(err).Str("path", r.path).Msg("Credentials reload failed, keeping previous content")
			return
		}
		if r.opts.OnReload != nil {
			r.opts.OnReload()
		}
	})
}

// Close stops watching the file.
func (r *FileResolver) Close() error {
	var err error
	r.stopped.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.mu.Unlock()
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}
