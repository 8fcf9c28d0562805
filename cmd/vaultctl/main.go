package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"crm_backend/internal/logging"
)

var (
	env    = viper.New()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Manage the provider API key vault",
	Long:  "Generates master keys, encrypts provider API keys and migrates legacy ciphertexts to the current format.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		env.AutomaticEnv()
		env.SetDefault("LOG_LEVEL", "info")
		env.SetDefault("LOG_FORMAT", "console")

		logger = logging.Init(env.GetString("LOG_LEVEL"), env.GetString("LOG_FORMAT"))
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(generateKeyCmd, encryptCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
