package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/credential"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage sealed credential secrets",
}

var secretKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new random secret key",
	Long:  `Print a new base64 secret key. Export it in the variable named by credentials.key_env.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var key [32]byte
		if _, err := rand.Read(key[:]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key[:]))
		return nil
	},
}

var secretSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a secret read from stdin",
	Long: `Read one secret from stdin and print it sealed with the key in the
variable named by credentials.key_env. Paste the output as a connection secret.`,
	Args: cobra.NoArgs,
	RunE: runSecretSeal,
}

func init() {
	secretCmd.AddCommand(secretKeygenCmd, secretSealCmd)
	rootCmd.AddCommand(secretCmd)
}

func runSecretSeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw := os.Getenv(cfg.Credentials.KeyEnv)
	if raw == "" {
		return fmt.Errorf("%s is not set; create a key with: toolgate secret keygen", cfg.Credentials.KeyEnv)
	}
	key, err := credential.ParseKey(raw)
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	plaintext := strings.TrimRight(line, "\r\n")
	if plaintext == "" {
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		return fmt.Errorf("secret is empty")
	}

	sealed, err := credential.SealSecret(key, plaintext)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}
