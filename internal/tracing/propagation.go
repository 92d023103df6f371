package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base with the trace, request, agent and
// connection ids carried by ctx. Empty ids are left out.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	fields := [...]struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"request_id", tc.RequestID},
		{"agent_id", tc.AgentID},
		{"connection_id", tc.ConnectionID},
	}

	c := base.With()
	for _, f := range fields {
		if f.value != "" {
			c = c.Str(f.key, f.value)
		}
	}
	return c.Logger()
}
