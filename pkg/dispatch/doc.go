// Package dispatch executes agent tool calls against registered providers.
//
// Every request moves through the same states:
//
//	Received -> Validating -> (Denied | Deduplicating) -> (Suppressed | Executing) -> (Succeeded | Failed) -> Logged
//
// Validation resolves the provider from the tool name, discovers its tools
// through the tool cache and checks the agent's grant on the connection before
// anything with side effects runs. Identical requests (same agent, tool,
// arguments and connection) are serialized by the deduplicator, and a
// successful outcome is replayed to identical requests within the dedup
// window. Exactly one execution record is written per request, whatever state
// it ends in; a failure to write it is reported but never changes the result.
//
// Errors cross the package boundary only as an ErrorInfo with a stable Kind.
//
// Basic usage:
//
//	m, err := dispatch.NewManager(dispatch.Options{
//	    Registry:    registry,
//	    Credentials: resolver,
//	    Grants:      resolver,
//	    Audit:       auditlog.NewLogger(auditlog.Options{Store: store}),
//	})
//	res := m.Dispatch(ctx, dispatch.Request{
//	    AgentID:      "A1",
//	    ToolName:     "mail.send",
//	    ConnectionID: "C1",
//	    Arguments:    map[string]any{"to": "x@example.com", "subject": "hi"},
//	})
package dispatch
