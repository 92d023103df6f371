package daemon

import (
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/dispatch"
)

func dispatchRequest(agentID string) dispatch.Request {
	return dispatch.Request{
		AgentID:      agentID,
		ToolName:     "mail.send",
		ConnectionID: "C1",
		Arguments:    map[string]any{"to": "x@example.com", "subject": "hi", "body": "hello"},
	}
}

func auditFilter(agentID string) auditlog.Filter {
	return auditlog.Filter{AgentID: agentID}
}
