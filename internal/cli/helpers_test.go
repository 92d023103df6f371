package cli

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/pkg/auditlog"
)

// writeConfig saves a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logging.File = filepath.Join(dir, "toolgate.log")
	cfg.Audit.Path = filepath.Join(dir, "audit.db")
	cfg.Credentials.File = filepath.Join(dir, "credentials.yaml")
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, "toolgate.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))
	return path, cfg
}

// run executes the root command with args and returns its output.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of the shared command tree, since cobra
// keeps parsed values between Execute calls.
func resetFlags() {
	resetCommandFlags(GetRootCmd())
	cfgFile = ""
	logLevel = ""
	stopTimeout = 30 * time.Second
	toolsAgent = ""
	toolsConnection = ""
	execAgent = ""
	execTool = ""
	execSince = ""
	execUntil = ""
	execSuccess = ""
	execLimit = auditlog.DefaultLimit
	execJSON = false
}

func resetCommandFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetCommandFlags(sub)
	}
}
