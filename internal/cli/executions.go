package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/pkg/auditlog"
)

var (
	execAgent   string
	execTool    string
	execSince   string
	execUntil   string
	execSuccess string
	execLimit   int
	execJSON    bool
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Query the execution log",
	Long: `Query recorded tool call executions, newest first.
With the sqlite audit driver the database is read directly, so the daemon
does not need to be running. Otherwise the running daemon is asked.

--since and --until accept an RFC 3339 timestamp or a duration such as 2h,
meaning that long ago.`,
	RunE: runExecutions,
}

func init() {
	f := executionsCmd.Flags()
	f.StringVar(&execAgent, "agent", "", "only records of this agent")
	f.StringVar(&execTool, "tool", "", "only records of this tool")
	f.StringVar(&execSince, "since", "", "only records started at or after this time")
	f.StringVar(&execUntil, "until", "", "only records started before this time")
	f.StringVar(&execSuccess, "success", "", "only successful (true) or failed (false) records")
	f.IntVar(&execLimit, "limit", auditlog.DefaultLimit, "maximum number of records")
	f.BoolVar(&execJSON, "json", false, "print records as JSON lines")
	rootCmd.AddCommand(executionsCmd)
}

func runExecutions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	now := time.Now()
	f := auditlog.Filter{AgentID: execAgent, ToolName: execTool, Limit: execLimit}
	if f.Since, err = parseTimeFlag(execSince, now); err != nil {
		return fmt.Errorf("--since: %w", err)
	}
	if f.Until, err = parseTimeFlag(execUntil, now); err != nil {
		return fmt.Errorf("--until: %w", err)
	}
	if execSuccess != "" {
		b, err := strconv.ParseBool(execSuccess)
		if err != nil {
			return fmt.Errorf("--success must be true or false")
		}
		f.Success = &b
	}

	records, err := queryExecutions(cmd, cfg, f.Normalize())
	if err != nil {
		return err
	}
	return printExecutions(cmd.OutOrStdout(), records, execJSON)
}

func queryExecutions(cmd *cobra.Command, cfg *config.Config, f auditlog.Filter) ([]auditlog.Record, error) {
	if cfg.Audit.Driver == config.AuditDriverSQLite {
		store, err := auditlog.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		defer store.Close()
		return store.Query(cmd.Context(), f)
	}

	var body struct {
		Executions []auditlog.Record `json:"executions"`
	}
	if err := newAPIClient(cfg).get(cmd.Context(), "/v1/executions", filterQuery(f), &body); err != nil {
		return nil, err
	}
	return body.Executions, nil
}

// filterQuery encodes f as /v1/executions query parameters.
func filterQuery(f auditlog.Filter) url.Values {
	q := url.Values{}
	if f.AgentID != "" {
		q.Set("agent_id", f.AgentID)
	}
	if f.ToolName != "" {
		q.Set("tool_name", f.ToolName)
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.Format(time.RFC3339))
	}
	if f.Success != nil {
		q.Set("success", strconv.FormatBool(*f.Success))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

// parseTimeFlag accepts an RFC 3339 timestamp or a duration back from now.
func parseTimeFlag(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("%q is neither an RFC 3339 time nor a positive duration", v)
	}
	return now.Add(-d), nil
}

func printExecutions(out io.Writer, records []auditlog.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tAGENT\tTOOL\tCONNECTION\tOUTCOME\tDURATION\tERROR")
	for _, r := range records {
		errKind := r.ErrorKind
		if errKind == "" {
			errKind = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.AgentID, r.ToolName, r.ConnectionID, r.Outcome,
			r.Duration.Round(time.Millisecond), errKind)
	}
	return w.Flush()
}
