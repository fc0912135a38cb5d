package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/opsdash/authgate/internal/infrastructure/db/postgres"
)

type migrateEnv struct {
	DatabaseURL string `env:"DATABASE_URL, required"`
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Run database migrations",
		Long:      `Apply (up, the default) or roll back (down) the PostgreSQL schema.`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE:      runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	var env migrateEnv
	if err := envconfig.Process(context.Background(), &env); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	m, err := postgres.NewMigrator(env.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	cmd.Printf("Running migrations %s...\n", direction)
	if direction == "down" {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Schema version %d (dirty=%t)\n", version, dirty)
	return nil
}
