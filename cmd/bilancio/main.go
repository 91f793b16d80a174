// Command bilancio administers the budgeting store: it runs schema
// migrations on open and optionally seeds the default system category set.
package main

import (
	"context"
	"flag"
	"os"

	"bilancio/internal/cli"
)

func main() {
	seed := flag.Bool("seed", false, "seed the default system categories when none exist")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger("bilancio")

	logger.Info("Starting bilancio admin")

	cfg := cli.LoadAndValidateConfig(logger)

	// Opening the repository runs pending migrations.
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	logger.Info("Database ready", "path", cfg.SQLiteDBPath)

	if *seed {
		created, err := repo.SeedSystemCategories(context.Background())
		if err != nil {
			logger.Error("Failed to seed system categories", "error", err)
			os.Exit(1)
		}
		if created == 0 {
			logger.Info("System categories already present, nothing to seed")
		} else {
			logger.Info("System categories seeded", "count", created)
		}
	}
}
