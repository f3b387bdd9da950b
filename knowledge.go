package main

import (
	"fmt"

	"inbox_worker/adapter/out/persistence"
	"inbox_worker/infra/database"
	"inbox_worker/pkg/cache"
	"inbox_worker/pkg/logger"

	"github.com/spf13/cobra"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the reply knowledge corpus",
	}
	cmd.AddCommand(newKnowledgeLoadCmd())
	return cmd
}

func newKnowledgeLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Upsert knowledge entries from a YAML file",
		Long:  "Entries are matched by title. The shared snapshot cache is dropped so workers pick up the change.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("knowledge load requires DATABASE_URL")
			}

			entries, err := persistence.LoadKnowledgeFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := database.NewSQLX(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.MigrateOnStart {
				if err := persistence.Migrate(ctx, db); err != nil {
					return err
				}
			}

			n, err := persistence.NewKnowledgeAdapter(db).Upsert(ctx, entries)
			if err != nil {
				return err
			}

			if cfg.RedisURL != "" {
				client, err := database.NewRedis(ctx, cfg.RedisURL)
				if err != nil {
					logger.WithError(err).Warn("Could not reach Redis; cached snapshots expire on their own")
				} else {
					defer client.Close()
					if err := persistence.NewRedisKnowledgeCache(cache.NewRedisCache(client)).Invalidate(ctx); err != nil {
						logger.WithError(err).Warn("Failed to invalidate knowledge cache")
					}
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entries from %s\n", n, args[0])
			return nil
		},
	}
}
