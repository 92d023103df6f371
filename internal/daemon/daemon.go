// Package daemon wires the dispatcher, its providers and the HTTP API into
// one long-running service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/internal/server"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/dispatch"
	"github.com/harun/toolgate/pkg/provider"
)

// Version is reported to MCP servers and by the CLI. Set with -ldflags at build time.
var Version = "dev"

// Daemon represents the toolgate service
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	metrics  *metrics.Metrics
	creds    *credential.FileResolver
	store    auditlog.Store
	registry *provider.Registry
	manager  *dispatch.Manager
	server   *server.Server

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	errCh     chan error
	closeOnce sync.Once

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool          `json:"running"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Uptime    time.Duration `json:"uptime"`
	Providers []string      `json:"providers"`
}

// New builds every component from cfg. Nothing is started yet.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(ctx, tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("Tracing initialized")
		}
	}

	if err := d.initialize(); err != nil {
		d.closeComponents()
		cancel()
		return nil, err
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initialize builds components in dependency order.
func (d *Daemon) initialize() error {
	d.metrics = metrics.NewMetrics()

	creds, err := openCredentials(d.config.Credentials, d.logger.Component("credentials"), d.invalidateTools)
	if err != nil {
		return err
	}
	d.creds = creds
	d.log.Info().Str("path", d.config.Credentials.File).Msg("Credential store initialized")

	store, err := openAuditStore(d.config.Audit)
	if err != nil {
		return err
	}
	d.store = store
	d.log.Info().Str("driver", d.config.Audit.Driver).Str("path", d.config.Audit.Path).Msg("Audit store initialized")

	registry, err := buildRegistry(d.config.Providers, creds, d.logger)
	if err != nil {
		return err
	}
	d.registry = registry
	d.log.Info().Strs("providers", registry.IDs()).Msg("Providers registered")

	redactor := d.logger.Redactor()
	var auditRedactor auditlog.Redactor
	if redactor != nil {
		auditRedactor = redactor
	}

	manager, err := dispatch.NewManager(dispatch.Options{
		Config:      d.config.Dispatch,
		Registry:    registry,
		Credentials: creds,
		Audit: auditlog.NewLogger(auditlog.Options{
			Store:        store,
			WriteTimeout: d.config.Audit.WriteTimeout,
			Redactor:     auditRedactor,
			Metrics:      d.metrics,
			Logger:       d.logger.Component("auditlog"),
		}),
		Metrics:  d.metrics,
		Redactor: auditRedactor,
		Logger:   d.logger.Component("dispatch"),
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatch manager: %w", err)
	}
	d.manager = manager

	srv, err := server.New(d.config.Server, manager, d.metrics, d.logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	d.server = srv

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting toolgate daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.Credentials.Watch {
		if err := d.creds.Watch(); err != nil {
			log.Warn().Err(err).Msg("Failed to watch credentials file, reload disabled")
		} else {
			log.Info().Msg("Watching credentials file")
		}
	}

	if err := d.server.Listen(); err != nil {
		d.setStopped()
		_ = d.lifecycle.Stop()
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(); err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			select {
			case d.errCh <- err:
			default:
			}
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	log.Info().Str("addr", d.server.Addr()).Msg("Daemon started")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping toolgate daemon")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.config.Server.ShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Failed to stop http server")
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.closeComponents()

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Close releases every component of a daemon that was never started.
// Stop calls it itself.
func (d *Daemon) Close() {
	d.cancel()
	d.closeComponents()
}

// closeComponents releases everything New opened, once. It tolerates partial initialization.
func (d *Daemon) closeComponents() {
	d.closeOnce.Do(d.releaseComponents)
}

func (d *Daemon) releaseComponents() {
	if d.manager != nil {
		d.manager.Close()
	}
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close providers")
		}
	}
	if d.creds != nil {
		if err := d.creds.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close credential store")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close audit store")
		}
	}
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// invalidateTools drops every cached tool list after the credentials file
// changed, since connections or grants may differ.
func (d *Daemon) invalidateTools() {
	if d.manager == nil {
		return
	}
	for _, id := range d.registry.IDs() {
		d.manager.InvalidateProvider(id)
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		Providers: d.registry.IDs(),
	}
	if d.running {
		status.StartTime = d.startTime
		status.Uptime = time.Since(d.startTime)
	}
	return status
}

// Wait blocks until SIGINT, SIGTERM or a server failure, then stops the daemon.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		d.log.Info().Str("signal", sig.String()).Msg("Received signal")
	case runErr = <-d.errCh:
	}

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
	}
	return runErr
}

// Manager returns the dispatch manager.
func (d *Daemon) Manager() *dispatch.Manager {
	return d.manager
}

// Server returns the HTTP server.
func (d *Daemon) Server() *server.Server {
	return d.server
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}
