package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/logging"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Failed to connect to database", logging.ErrorField(err))
				return err
			}
			defer db.Close()

			return database.RunMigrations(db.SQLDB(), cfg.Database.MigrationsPath, logger)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Failed to connect to database", logging.ErrorField(err))
				return err
			}
			defer db.Close()

			logger.Info("Rolling back migrations", zap.Int("steps", steps))
			return database.MigrateDown(db.SQLDB(), cfg.Database.MigrationsPath, steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Failed to connect to database", logging.ErrorField(err))
				return err
			}
			defer db.Close()

			state, err := database.MigrationStatus(db.SQLDB(), cfg.Database.MigrationsPath, logger)
			if err != nil {
				return err
			}
			switch {
			case state.Empty:
				cmd.Println("no migrations applied")
			case state.Dirty:
				cmd.Printf("version %d (dirty)\n", state.Version)
			default:
				cmd.Printf("version %d\n", state.Version)
			}
			return nil
		},
	})

	return cmd
}
