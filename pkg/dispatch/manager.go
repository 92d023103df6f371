package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/dedup"
	"github.com/harun/toolgate/pkg/permission"
	"github.com/harun/toolgate/pkg/provider"
	"github.com/harun/toolgate/pkg/toolcache"
)

const tracerName = "toolgate/dispatch"

// maxDetailLen caps the error detail appended to a kind's stable message.
const maxDetailLen = 200

// Options configures a Manager. Registry and Credentials are required;
// every other collaborator gets a default built from Config.
type Options struct {
	Config      Config
	Registry    *provider.Registry
	Credentials credential.Resolver
	// Grants defaults to Credentials when it implements permission.GrantSource.
	Grants    permission.GrantSource
	Validator *permission.Validator
	Cache     *toolcache.Cache
	Dedup     *dedup.Deduplicator
	Schemas   *provider.SchemaValidator
	Audit     *auditlog.Logger
	Metrics   *metrics.Metrics
	Redactor  auditlog.Redactor
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Manager runs tool calls through validation, deduplication, execution and logging.
type Manager struct {
	cfg       Config
	registry  *provider.Registry
	creds     credential.Resolver
	grants    permission.GrantSource
	validator *permission.Validator
	cache     *toolcache.Cache
	dedup     *dedup.Deduplicator
	ownsDedup bool
	schemas   *provider.SchemaValidator
	audit     *auditlog.Logger
	metrics   *metrics.Metrics
	redactor  auditlog.Redactor
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. A zero Config means DefaultConfig.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("dispatch: credential resolver is required")
	}

	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: invalid config: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		cfg:       cfg,
		registry:  opts.Registry,
		creds:     opts.Credentials,
		grants:    opts.Grants,
		validator: opts.Validator,
		cache:     opts.Cache,
		dedup:     opts.Dedup,
		schemas:   opts.Schemas,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		redactor:  opts.Redactor,
		logger:    opts.Logger,
		now:       now,
	}

	if m.grants == nil {
		if gs, ok := opts.Credentials.(permission.GrantSource); ok {
			m.grants = gs
		}
	}
	if m.validator == nil {
		m.validator = permission.NewValidator(m.grants, m.logger)
	}
	if m.cache == nil {
		m.cache = toolcache.New(toolcache.Options{
			TTL:          cfg.CacheTTL,
			FetchTimeout: cfg.ExecutionTimeout,
			Metrics:      m.metrics,
			Now:          now,
		})
	}
	if m.dedup == nil {
		m.dedup = dedup.New(dedup.Options{
			Window:  cfg.DedupWindow,
			Metrics: m.metrics,
			Now:     now,
		})
		m.ownsDedup = true
	}
	if m.schemas == nil {
		m.schemas = provider.NewSchemaValidator()
	}
	if m.audit == nil {
		m.audit = auditlog.NewLogger(auditlog.Options{
			Store:    auditlog.NewMemoryStore(),
			Redactor: m.redactor,
			Metrics:  m.metrics,
			Logger:   m.logger,
		})
	}

	return m, nil
}

// Config returns the active configuration.
func (m *Manager) Config() Config { return m.cfg }

// Registry returns the provider registry.
func (m *Manager) Registry() *provider.Registry { return m.registry }

// Audit returns the execution logger.
func (m *Manager) Audit() *auditlog.Logger { return m.audit }

// Cache returns the tool cache.
func (m *Manager) Cache() *toolcache.Cache { return m.cache }

// Dedup returns the deduplicator.
func (m *Manager) Dedup() *dedup.Deduplicator { return m.dedup }

// Close stops background work owned by the manager. Providers are not closed.
func (m *Manager) Close() {
	if m.ownsDedup {
		m.dedup.Close()
	}
}

// execution carries per-request state between the dispatch stages.
type execution struct {
	req         Request
	startedAt   time.Time
	providerID  string
	fingerprint string
	err         error
}

// replay is stored as the dedup outcome value so identical calls get the same data.
type replay struct {
	data      any
	metadata  map[string]string
	truncated bool
}

// Dispatch executes one request and returns its classified result.
// Exactly one execution record is written per call.
func (m *Manager) Dispatch(ctx context.Context, req Request) Result {
	start := m.now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = start
	}
	ctx = tracing.NewCallContext(ctx, req.AgentID, req.ConnectionID)

	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.Dispatch",
		attribute.String("agent.id", req.AgentID),
		attribute.String("tool.name", req.ToolName),
		attribute.String("connection.id", req.ConnectionID),
	)
	defer span.End()
	log := tracing.LoggerFromContext(ctx, m.logger)

	x := &execution{req: req, startedAt: start}
	res := m.run(ctx, x)

	completed := m.now()
	res.Duration = completed.Sub(start)
	res.DurationMS = res.Duration.Milliseconds()

	ack := m.audit.Record(ctx, m.record(x, res, completed))
	if ack.OK() {
		res.RecordID = ack.RecordID
	}

	var errorKind string
	if res.Error != nil {
		errorKind = string(res.Error.Kind)
	}
	m.metrics.ObserveDispatch(req.ToolName, string(res.Status), errorKind, res.Duplicate, res.Duration)

	span.SetAttributes(
		attribute.String("dispatch.outcome", string(res.Status)),
		attribute.Bool("dispatch.duplicate", res.Duplicate),
	)
	if res.Error != nil {
		span.SetStatus(codes.Error, errorKind)
	}

	event := log.Info()
	if res.Error != nil {
		event = log.Warn().Str("error_kind", errorKind)
	}
	event = event.
		Str("tool", req.ToolName).
		Str("status", string(res.Status)).
		Bool("duplicate", res.Duplicate).
		Dur("duration", res.Duration)
	if !ack.OK() {
		event = event.Str("audit", string(KindLoggingFailure))
	}
	event.Msg("Tool call dispatched")

	return res
}

// DispatchBatch dispatches reqs concurrently, at most MaxParallel at a time,
// and returns their results in input order.
func (m *Manager) DispatchBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	if m.cfg.MaxParallel > 0 {
		g.SetLimit(m.cfg.MaxParallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = m.Dispatch(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Manager) run(ctx context.Context, x *execution) Result {
	req := x.req

	if err := ctx.Err(); err != nil {
		return m.fail(x, contextError(err))
	}
	if err := validateRequest(req); err != nil {
		return m.fail(x, err)
	}

	p, _, err := m.registry.Resolve(req.ToolName)
	if err != nil {
		return m.fail(x, err)
	}
	x.providerID = p.ID()

	def, err := m.lookupTool(ctx, p, req.ToolName, req.ConnectionID)
	if err != nil {
		return m.fail(x, err)
	}

	decision := m.validator.Validate(ctx, req.AgentID, def.RequiredScopes, req.ConnectionID)
	if !decision.Allowed {
		return m.fail(x, decision.Err())
	}

	if err := m.schemas.Validate(def, req.Arguments); err != nil {
		return m.fail(x, err)
	}

	fp, err := Fingerprint(req.AgentID, req.ToolName, req.Arguments, req.ConnectionID)
	if err != nil {
		return m.fail(x, err)
	}
	x.fingerprint = fp

	return m.deduplicate(ctx, x, p)
}

func validateRequest(req Request) error {
	var missing []string
	if strings.TrimSpace(req.AgentID) == "" {
		missing = append(missing, "agent_id")
	}
	if strings.TrimSpace(req.ToolName) == "" {
		missing = append(missing, "tool_name")
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		missing = append(missing, "connection_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// lookupTool finds the definition of toolName through the tool cache.
func (m *Manager) lookupTool(ctx context.Context, p provider.Provider, toolName, connectionID string) (provider.ToolDefinition, error) {
	tools, err := m.discover(ctx, p, connectionID)
	if err != nil {
		return provider.ToolDefinition{}, err
	}
	def, ok := provider.FindTool(tools, toolName)
	if !ok {
		return provider.ToolDefinition{}, fmt.Errorf("%w: %s", provider.ErrToolNotFound, toolName)
	}
	return def, nil
}

func (m *Manager) discover(ctx context.Context, p provider.Provider, connectionID string) ([]provider.ToolDefinition, error) {
	tools, err := m.cache.GetOrFetch(ctx, p.ID(), connectionID, func(fctx context.Context) ([]provider.ToolDefinition, error) {
		defs, err := p.ListTools(fctx, connectionID)
		return defs, discoveryError(err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, err
	}
	return tools, nil
}

// discoveryError makes sure a failed discovery carries a provider sentinel.
func discoveryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrInvalidConnection),
		errors.Is(err, provider.ErrProviderError):
		return err
	default:
		return fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
}

func (m *Manager) deduplicate(ctx context.Context, x *execution, p provider.Provider) Result {
	for {
		acq := m.dedup.Acquire(x.fingerprint)
		switch acq.Status {
		case dedup.Leased:
			return m.execute(ctx, x, p, acq.Lease)

		case dedup.RecentlyCompleted:
			return m.suppressed(acq.Prior, "identical call completed recently")

		case dedup.InFlight:
			if !m.cfg.AwaitInFlight {
				// No outcome exists yet, so nothing is reported as done.
				return m.suppressed(dedup.Outcome{}, "identical call in progress")
			}
			waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
			out, err := acq.Wait(waitCtx)
			cancel()
			if err != nil {
				return m.fail(x, executionError(ctx, waitCtx, err))
			}
			if out.Success {
				return m.suppressed(out, "identical call completed while waiting")
			}
			// The sibling failed and freed the fingerprint; try to take it.
		}
	}
}

type providerOutcome struct {
	result provider.Result
	replay replay
	err    error
}

func (m *Manager) execute(ctx context.Context, x *execution, p provider.Provider, lease *dedup.Lease) Result {
	req := x.req

	cred, err := m.resolveCredential(ctx, p.ID(), req)
	if err != nil {
		lease.Release(dedup.Outcome{})
		return m.fail(x, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
	defer cancel()

	// The goroutine owns the lease. A call abandoned on timeout keeps its
	// fingerprint until the provider returns.
	done := make(chan providerOutcome, 1)
	go func() {
		var o providerOutcome
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				o = providerOutcome{err: fmt.Errorf("provider %s panicked: %v", p.ID(), r)}
			}
			m.metrics.ObserveProviderCall(p.ID(), o.err, time.Since(start))
			lease.Release(dedup.Outcome{Success: o.err == nil, Value: o.replay})
			done <- o
		}()

		o.result, o.err = p.Execute(execCtx, req.ToolName, cloneArgs(req.Arguments), cred)
		if o.err == nil {
			data, truncated := provider.Truncate(o.result.Data, m.cfg.MaxOutputSize)
			o.replay = replay{data: data, metadata: o.result.Metadata, truncated: truncated}
		}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return m.fail(x, executionError(ctx, execCtx, o.err))
		}
		return Result{
			Success:   true,
			Status:    StatusSucceeded,
			Data:      o.replay.data,
			Truncated: o.replay.truncated,
			Metadata:  o.replay.metadata,
		}
	case <-execCtx.Done():
		tracing.LoggerFromContext(ctx, m.logger).Warn().
			Str("tool", req.ToolName).
			Str("lease_id", lease.ID()).
			Msg("Tool call abandoned before provider returned")
		return m.fail(x, executionError(ctx, execCtx, execCtx.Err()))
	}
}

func (m *Manager) resolveCredential(ctx context.Context, providerID string, req Request) (credential.Credential, error) {
	if err := ctx.Err(); err != nil {
		return credential.Credential{}, contextError(err)
	}
	cred, err := m.creds.Resolve(ctx, req.AgentID, req.ConnectionID)
	if err != nil {
		return credential.Credential{}, err
	}
	if cred.ProviderID != "" && cred.ProviderID != providerID {
		return credential.Credential{}, fmt.Errorf("%w: connection %q belongs to provider %q",
			provider.ErrInvalidConnection, req.ConnectionID, cred.ProviderID)
	}
	if cred.Expired(m.now()) {
		return credential.Credential{}, credential.ErrCredentialExpired
	}
	if cred.ConnectionID == "" {
		cred.ConnectionID = req.ConnectionID
	}
	return cred, nil
}

// contextError tags a context error so Classify tells cancellation from deadlines.
func contextError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

func executionError(ctx, execCtx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", provider.ErrTimeout, err)
	default:
		return err
	}
}

func (m *Manager) suppressed(prior dedup.Outcome, message string) Result {
	res := Result{
		Success:   prior.Success,
		Status:    StatusSuppressed,
		Duplicate: true,
		Message:   message,
	}
	if r, ok := prior.Value.(replay); ok {
		res.Data = r.data
		res.Metadata = r.metadata
		res.Truncated = r.truncated
	}
	return res
}

func (m *Manager) fail(x *execution, err error) Result {
	x.err = err
	kind := Classify(err)

	status := StatusFailed
	if kind == KindPermissionDenied {
		status = StatusDenied
	}

	return Result{
		Status: status,
		Error: &ErrorInfo{
			Kind:      kind,
			Message:   m.message(kind, err),
			Retryable: kind.Retryable(),
		},
	}
}

// message returns the caller-facing text for err. Provider payloads never
// reach the caller; only caller-correctable kinds carry a detail.
func (m *Manager) message(kind Kind, err error) string {
	switch kind {
	case KindInvalidArguments, KindToolNotFound, KindPermissionDenied, KindInvalidConnection:
	default:
		return kind.Message()
	}

	detail := err.Error()
	if m.redactor != nil {
		detail = m.redactor.Redact(detail)
	}
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen] + "..."
	}
	return kind.Message() + ": " + detail
}

func (m *Manager) record(x *execution, res Result, completed time.Time) auditlog.Record {
	req := x.req
	r := auditlog.Record{
		AgentID:      req.AgentID,
		ToolName:     req.ToolName,
		ProviderID:   x.providerID,
		ConnectionID: req.ConnectionID,
		Fingerprint:  x.fingerprint,
		Arguments:    req.Arguments,
		ErrorKind:    string(res.Kind()),
		Success:      res.Success,
		Duplicate:    res.Duplicate,
		Outcome:      auditlog.Outcome(res.Status),
		Duration:     res.Duration,
		StartedAt:    x.startedAt,
		CompletedAt:  completed,
	}
	if res.Success {
		r.Result = res.Data
	}
	if x.err != nil {
		r.ErrorMessage = x.err.Error()
	}
	return r
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
