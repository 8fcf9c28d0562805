package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crm_backend/internal/config"
	"crm_backend/internal/logging"
	"crm_backend/internal/storage"
)

var (
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Operate the CRM AI backend",
	Long:  "Inspects and repairs the usage queue, rate limit buckets and session tokens of a running deployment.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c
		logger = logging.Init(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(usageCmd, ratelimitCmd, sessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// redisClient connects to the deployment's Redis. Queue and limiter state of
// an in-memory setup lives inside the server process and cannot be reached.
func redisClient(ctx context.Context) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, eris.New("REDIS_ADDRESS is required: in-memory queues and limits are private to the server process")
	}
	return storage.NewRedisClient(ctx, cfg.Redis.ClientConfig())
}
