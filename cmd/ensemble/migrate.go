package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/luminetic/ensemble/store/migration"
)

// runMigrate dispatches the migrate subcommands. Only server databases
// (postgres, mysql) migrate here; sqlite and memory stores migrate
// themselves on open.
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		withMigrator(args[1:], func(m *migration.Migrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		})
	case "down":
		withMigrator(args[1:], func(m *migration.Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			fmt.Println("rolled back one migration")
			return nil
		})
	case "version":
		withMigrator(args[1:], func(m *migration.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("schema version %d (dirty)\n", v)
			} else {
				fmt.Printf("schema version %d\n", v)
			}
			return nil
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}
}

// withMigrator builds a migrator from the shared flags, runs fn against it
// and exits non-zero on failure.
func withMigrator(args []string, fn func(*migration.Migrator) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Store driver override (postgres, mysql)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *driver != "" {
		cfg.Store.Driver = *driver
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	m, err := migration.New(cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := fn(m); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Store Migration Commands

Usage:
  ensemble migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current schema version
  help      Show this help message

Options:
  --config <path>    Path to configuration file (YAML)
  --driver <name>    Store driver override (postgres, mysql)

SQLite and memory stores apply their schema on open and need no
migration step.

Examples:
  ensemble migrate up
  ensemble migrate up --config /etc/ensemble/config.yaml
  ensemble migrate down --driver postgres
  ensemble migrate version`)
}
