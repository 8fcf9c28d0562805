package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crm_backend/internal/models"
	"crm_backend/internal/storage"
	"crm_backend/internal/vault"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Re-encrypt legacy CBC ciphertexts as AES-GCM",
	Long:  "Scans every stored provider key and rewrites the ones still in the legacy format. Keys that fail to decrypt are reported and left untouched.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		v, err := loadVault(ctx)
		if err != nil {
			return err
		}

		dsn := env.GetString("DATABASE_URL")
		if dsn == "" {
			return eris.New("DATABASE_URL is required")
		}
		db, err := storage.NewDB(storage.DefaultDBConfig(dsn))
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := migrateLegacy(ctx, db.NewProviderRepository(), v, migrateDryRun)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d legacy=%d rewritten=%d skipped=%d failed=%d dry_run=%t\n",
			stats.Scanned, stats.Legacy, stats.Rewritten, stats.Skipped, stats.Failed, migrateDryRun)
		if stats.Failed > 0 {
			return eris.Errorf("%d keys could not be migrated", stats.Failed)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "report legacy keys without rewriting them")
}

type ciphertextStore interface {
	ListAll(ctx context.Context) ([]models.ProviderConfig, error)
	UpdateCiphertext(ctx context.Context, id uuid.UUID, oldCiphertext, newCiphertext string) error
}

type migrateStats struct {
	Scanned   int
	Legacy    int
	Rewritten int
	Skipped   int
	Failed    int
}

func migrateLegacy(ctx context.Context, store ciphertextStore, v *vault.Vault, dryRun bool) (migrateStats, error) {
	var stats migrateStats

	rows, err := store.ListAll(ctx)
	if err != nil {
		return stats, err
	}

	for _, p := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++
		if !vault.IsLegacy(p.APIKeyEncrypted) {
			continue
		}
		stats.Legacy++

		log := logger.With(
			zap.String("provider_id", p.ID.String()),
			zap.String("organization_id", p.OrganizationID),
			zap.String("provider_type", string(p.ProviderType)),
		)

		out, _, err := v.Reencrypt(p.APIKeyEncrypted)
		if err != nil {
			stats.Failed++
			log.Error("Legacy key cannot be decrypted", zap.Error(err))
			continue
		}
		if dryRun {
			log.Info("Legacy key would be rewritten")
			continue
		}
		if err := store.UpdateCiphertext(ctx, p.ID, p.APIKeyEncrypted, out); err != nil {
			if errors.Is(err, storage.ErrCiphertextChanged) {
				stats.Skipped++
				log.Warn("Key was replaced during migration, leaving it alone")
				continue
			}
			stats.Failed++
			log.Error("Failed to store re-encrypted key", zap.Error(err))
			continue
		}
		stats.Rewritten++
		log.Info("Legacy key rewritten")
	}
	return stats, nil
}
