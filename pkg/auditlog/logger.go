package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/toolgate/internal/metrics"
)

// DefaultWriteTimeout bounds a single record write.
const DefaultWriteTimeout = 5 * time.Second

// Redactor masks secrets in free-form text.
type Redactor interface {
	Redact(input string) string
}

// Options configures a Logger.
type Options struct {
	Store        Store
	WriteTimeout time.Duration
	Redactor     Redactor
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	// OnFailure is called after a record could not be written.
	OnFailure func(r Record, err error)
}

// Ack reports the fate of one write.
type Ack struct {
	RecordID string
	Err      error
}

// OK reports whether the record was stored.
func (a Ack) OK() bool { return a.Err == nil }

// Logger writes execution records on a best-effort basis. A failed write is
// reported through metrics, the log and OnFailure, never to the caller's result.
type Logger struct {
	opts Options
}

// NewLogger creates a Logger.
func NewLogger(opts Options) *Logger {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return &Logger{opts: opts}
}

// Store returns the backing store.
func (l *Logger) Store() Store { return l.opts.Store }

// Record assigns an id if needed and persists r.
// The write runs under a context detached from ctx's cancellation so that
// calls aborted by the caller are still recorded.
func (l *Logger) Record(ctx context.Context, r Record) Ack {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if l.opts.Redactor != nil {
		r.ErrorMessage = l.opts.Redactor.Redact(r.ErrorMessage)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("execution_recorded", trace.WithAttributes(
			attribute.String("audit.record_id", r.ID),
			attribute.String("audit.outcome", string(r.Outcome)),
			attribute.String("audit.tool", r.ToolName),
			attribute.Bool("audit.success", r.Success),
		))
	}

	if l.opts.Store == nil {
		return l.fail(r, fmt.Errorf("no audit store configured"), 0)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := l.opts.Store.Append(writeCtx, r)
	elapsed := time.Since(start)
	if err != nil {
		return l.fail(r, err, elapsed)
	}

	l.opts.Metrics.ObserveAuditWrite(nil, elapsed)
	return Ack{RecordID: r.ID}
}

func (l *Logger) fail(r Record, err error, elapsed time.Duration) Ack {
	l.opts.Metrics.ObserveAuditWrite(err, elapsed)
	l.opts.Logger.Error().
		Err(err).
		Str("record_id", r.ID).
		Str("agent_id", r.AgentID).
		Str("tool", r.ToolName).
		Str("outcome", string(r.Outcome)).
		Msg("Failed to write execution record")
	if l.opts.OnFailure != nil {
		l.opts.OnFailure(r, err)
	}
	return Ack{RecordID: r.ID, Err: err}
}

// Query reads records from the backing store.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Record, error) {
	if l.opts.Store == nil {
		return nil, fmt.Errorf("no audit store configured")
	}
	return l.opts.Store.Query(ctx, f)
}
