package cli

import (
	"fmt"

	"github.com/fjod/cartsubs/internal/catalog"
	"github.com/fjod/cartsubs/internal/config"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				dbPath = cfg.CatalogDBPath
			}
			return runMigrate(dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "catalog database path (default CATALOG_DB_PATH)")
	return cmd
}

func runMigrate(dbPath string) error {
	repo, err := catalog.NewRepository(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	if err := repo.RunMigrations(); err != nil {
		return err
	}
	fmt.Printf("catalog migrated: %s\n", dbPath)
	return nil
}
