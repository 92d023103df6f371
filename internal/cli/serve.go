package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/daemon"
	"github.com/harun/toolgate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the dispatch daemon in the foreground",
	Long: `Run the toolgate daemon in the foreground.
The HTTP API, provider connections and the execution log stay up until
SIGINT or SIGTERM, then shut down gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if pid, err := daemon.RunningPID(cfg.DataDir); err == nil {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Close()
		return err
	}
	return d.Wait()
}
