package cli

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the toolgate daemon gracefully.
Sends SIGTERM and waits for the daemon to exit, then SIGKILL after --timeout.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "how long to wait for the daemon to exit")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pid, err := daemon.Signal(cfg.DataDir, syscall.SIGTERM)
	if errors.Is(err, daemon.ErrNotRunning) {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sent SIGTERM to PID %d\n", pid)

	if waitForExit(cfg.DataDir, stopTimeout) {
		fmt.Fprintln(out, "Daemon stopped")
		return nil
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL")
	if _, err := daemon.Signal(cfg.DataDir, syscall.SIGKILL); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
		return err
	}
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

// waitForExit polls until no live daemon owns the PID file or timeout passes.
func waitForExit(dataDir string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := daemon.RunningPID(dataDir); errors.Is(err, daemon.ErrNotRunning) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
