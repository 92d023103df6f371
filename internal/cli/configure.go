package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
)

// credentialsTemplate is written when no credentials file exists yet.
const credentialsTemplate = `# Connections and the agents allowed to use them.
# Secrets may be sealed with "toolgate secret seal".
connections: []
#  - id: work-mail
#    provider: mail
#    secret: enc:...
#    metadata:
#      host: smtp.example.com
#      from: bot@example.com
#    grants:
#      - agent: assistant
#        scopes: [mail.send]
`

var configureCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"configure"},
	Short:   "Run the interactive configuration wizard",
	Long: `Run an interactive wizard that writes a config file and, if missing,
an empty credentials file to fill in with connections and grants.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.NewWizard(cmd.InOrStdin(), out).Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())

	created, err := writeCredentialsTemplate(cfg.Credentials.File)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Credentials template written to: %s\n", cfg.Credentials.File)
	}

	fmt.Fprintln(out, "\nYou can now start toolgate with: toolgate serve")
	return nil
}

// writeCredentialsTemplate creates path unless it exists and reports whether it did.
func writeCredentialsTemplate(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0o600); err != nil {
		return false, fmt.Errorf("failed to write credentials file: %w", err)
	}
	return true, nil
}
