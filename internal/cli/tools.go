package cli

import (
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/dispatch"
)

var (
	toolsAgent      string
	toolsConnection string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available on a connection",
	Long: `List the tools every provider exposes on a connection, as discovered by
the running daemon. With --agent each tool is marked with whether that agent
may call it.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsConnection, "connection", "", "connection id (required)")
	toolsCmd.Flags().StringVar(&toolsAgent, "agent", "", "agent id to check grants for")
	_ = toolsCmd.MarkFlagRequired("connection")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	q := url.Values{"connection_id": {toolsConnection}}
	if toolsAgent != "" {
		q.Set("agent_id", toolsAgent)
	}

	var body struct {
		Providers []dispatch.ProviderTools `json:"providers"`
	}
	if err := newAPIClient(cfg).get(cmd.Context(), "/v1/tools", q, &body); err != nil {
		return err
	}

	printTools(cmd, body.Providers)
	return nil
}

func printTools(cmd *cobra.Command, groups []dispatch.ProviderTools) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tSCOPES\tPERMITTED\tDESCRIPTION")
	for _, g := range groups {
		if g.Error != nil {
			fmt.Fprintf(w, "%s.*\t-\t-\terror: %s\n", g.ProviderID, g.Error.Message)
			continue
		}
		for _, t := range g.Tools {
			permitted := "-"
			if t.Permitted != nil {
				permitted = fmt.Sprintf("%t", *t.Permitted)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, strings.Join(t.RequiredScopes.Sorted(), ","), permitted, t.Description)
		}
	}
	w.Flush()
}
