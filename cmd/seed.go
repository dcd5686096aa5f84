package cmd

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/live-session-service/internal/config"
	"github.com/psds-microservice/live-session-service/internal/database"
	"github.com/spf13/cobra"
)

var seedSkipMigrate bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the development classroom (teacher, students, class, enrollments) from database/seeds/*.sql",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedSkipMigrate, "skip-migrate", false, "do not run migrations before seeding")
}

func runSeed(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !seedSkipMigrate {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := database.RunSeeds(db); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Println("seed: development classroom ready")
	return nil
}
