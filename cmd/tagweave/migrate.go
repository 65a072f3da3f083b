package main

import (
	"github.com/spf13/cobra"

	"github.com/tagweave/tagweave/config"
	"github.com/tagweave/tagweave/internal/store"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var dsn string
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := config.LoadConfig(cfgPath)
				if err != nil {
					return err
				}
				if err := cfg.Storage.Postgres.Validate(); err != nil {
					return err
				}
				dsn = cfg.Storage.Postgres.DSN()
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (overrides config)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	return migrate
}
