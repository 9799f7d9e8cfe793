package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long: `Apply or inspect the embedded schema migrations. The SQLite backend
migrates itself whenever it is opened, so only "up" applies to it.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.ResolvedBackend() == config.BackendSQLite {
				st, err := openStore(contextOrBackground(cmd.Context()), cfg)
				if err != nil {
					return err
				}
				fmt.Printf("SQLite schema up to date at %s\n", cfg.Database.Path)
				return st.Close()
			}
			v, err := pg.MigrateUp(cfg.Database.DSN)
			if err != nil {
				return err
			}
			fmt.Printf("Schema at version %d\n", v)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Steps(-1); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return printVersion(m)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(printVersion)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version must be an integer, got %q", args[0])
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(v); err != nil {
					return fmt.Errorf("migrate force: %w", err)
				}
				return printVersion(m)
			})
		},
	})
	return cmd
}

func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.ResolvedBackend() != config.BackendPostgres {
		return errors.New("this migrate command needs the postgres backend (set database.dsn)")
	}
	m, err := pg.NewMigrator(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func printVersion(m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("No migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	state := ""
	if dirty {
		state = " (dirty)"
	}
	fmt.Printf("Schema at version %d%s, binary ships %d\n", v, state, pg.SchemaVersion)
	return nil
}
