package main

import (
	"fmt"

	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	matchqueue "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/queue"
	matchmigrations "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories/migrations"
	"github.com/Black-And-White-Club/race-league/config"
)

// withMigrator opens the database and hands the match migrator to fn.
func withMigrator(c *cli.Context, fn func(cfg *config.Config, m *migrate.Migrator) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDB(c.Context, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cfg, migrate.NewMigrator(db, matchmigrations.Migrations))
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "database migrations",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(_ *config.Config, m *migrate.Migrator) error {
						return m.Init(c.Context)
					})
				},
			},
			{
				Name:  "migrate",
				Usage: "migrate database, including the job queue schema",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(cfg *config.Config, m *migrate.Migrator) error {
						if err := m.Lock(c.Context); err != nil {
							return err
						}
						defer m.Unlock(c.Context) //nolint:errcheck

						group, err := m.Migrate(c.Context)
						if err != nil {
							return err
						}
						if group.IsZero() {
							fmt.Println("No new migrations to run")
						} else {
							fmt.Printf("Migrated to %s\n", group)
						}
						return matchqueue.Migrate(c.Context, cfg.Postgres.DSN, newLogger(cfg))
					})
				},
			},
			{
				Name:  "rollback",
				Usage: "rollback the last migration group",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(_ *config.Config, m *migrate.Migrator) error {
						if err := m.Lock(c.Context); err != nil {
							return err
						}
						defer m.Unlock(c.Context) //nolint:errcheck

						group, err := m.Rollback(c.Context)
						if err != nil {
							return err
						}
						if group.IsZero() {
							fmt.Println("No groups to roll back")
						} else {
							fmt.Printf("Rolled back %s\n", group)
						}
						return nil
					})
				},
			},
			{
				Name:  "status",
				Usage: "print migrations status",
				Action: func(c *cli.Context) error {
					return withMigrator(c, func(_ *config.Config, m *migrate.Migrator) error {
						ms, err := m.MigrationsWithStatus(c.Context)
						if err != nil {
							return err
						}
						fmt.Printf("migrations: %s\n", ms)
						fmt.Printf("unapplied migrations: %s\n", ms.Unapplied())
						fmt.Printf("last migration group: %s\n", ms.LastGroup())
						return nil
					})
				},
			},
		},
	}
}
