package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"crm_backend/internal/vault"
)

var generateKeyCmd = &cobra.Command{
	Use:   "generate-key",
	Short: "Print a new random master key",
	Long:  "Prints a 64-character hex key suitable for AI_KEY_ENCRYPTION_KEY or a Secrets Manager secret.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt an API key read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v, err := loadVault(cmd.Context())
		if err != nil {
			return err
		}
		out, err := encryptFrom(cmd.InOrStdin(), v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func encryptFrom(r io.Reader, v *vault.Vault) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", eris.Wrap(err, "failed to read stdin")
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", eris.New("no API key on stdin")
	}
	return v.Encrypt(key)
}

func loadVault(ctx context.Context) (*vault.Vault, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return vault.Load(ctx, vault.KeySource{
		HexKey:    env.GetString("AI_KEY_ENCRYPTION_KEY"),
		SecretARN: env.GetString("AI_KEY_SECRET_ARN"),
		Region:    env.GetString("AWS_REGION"),
	})
}
