package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/sagaflow/config"
	"github.com/BaSui01/sagaflow/store"
)

// runMigrate applies the execution store schema. Migrations are
// embedded in the binary; "up" is the only direction exposed here,
// rollbacks are an operator task against the database directly.
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}
	if args[0] != "up" {
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate up", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	switch cfg.Store.Type {
	case "postgres", "mysql", "sqlite":
	default:
		fmt.Fprintf(os.Stderr, "Store type %q has no schema to migrate\n", cfg.Store.Type)
		os.Exit(1)
	}

	// Opening the store with Migrate set applies all pending migrations.
	cfg.Store.Migrate = true
	s, err := store.New(cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	fmt.Println("Migrations applied")
}

func printMigrateUsage() {
	fmt.Println(`Execution store migration

Usage:
  sagaflow migrate up [options]

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  sagaflow migrate up
  sagaflow migrate up --config /etc/sagaflow/config.yaml`)
}
