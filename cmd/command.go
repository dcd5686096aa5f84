package cmd

import (
	"errors"
	"fmt"

	"github.com/psds-microservice/live-session-service/internal/database"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command [name] [args...]",
	Short: "Run one-time command (migrate, migrate-down, migrate-create, seed)",
	RunE:  runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Println("available: migrate, migrate-down [steps], migrate-create <name>, seed")
		return nil
	}
	switch name, rest := args[0], args[1:]; name {
	case "migrate":
		return runMigrateUp(cmd, nil)
	case "migrate-down":
		return runMigrateDown(cmd, rest)
	case "migrate-create":
		migrationName := ""
		if len(rest) > 0 {
			migrationName = rest[0]
		} else {
			fmt.Print("Enter migration name: ")
			_, _ = fmt.Scanln(&migrationName)
		}
		if migrationName == "" {
			return errors.New("migration name required")
		}
		return database.CreateMigration(migrationName)
	case "seed":
		return runSeed(cmd, nil)
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}
