// Command migrate applies and rolls back the call metrics schema.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/drumcap/hooklabs-elite-sub003/internal/database"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/config"
)

var migrator *database.Migrator

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Gateway call metrics migration tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if !cfg.Database.Enabled() {
			return fmt.Errorf("DB_HOST is not set; the call metrics database is not configured")
		}

		migrator, err = database.NewMigrator(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if migrator == nil {
			return nil
		}
		return migrator.Close()
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all available migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("Running migrations...")
		if err := migrator.Up(); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("Rolling back all migrations...")
		if err := migrator.Down(); err != nil {
			return err
		}
		cmd.Println("All migrations rolled back")
		return nil
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps <n>",
	Short: "Run n migrations up (positive) or down (negative)",
	Example: `  migrate steps 1
  migrate steps -- -1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", args[0], err)
		}
		if err := migrator.Steps(n); err != nil {
			return err
		}
		return printVersion(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current migration version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd)
	},
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Set the migration version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := migrator.Force(v); err != nil {
			return err
		}
		cmd.Printf("Forced version %d\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(upCmd, downCmd, stepsCmd, versionCmd, forceCmd)
}

func printVersion(cmd *cobra.Command) error {
	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations applied")
		return nil
	}
	if dirty {
		cmd.Printf("Current version: %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("Current version: %d\n", version)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
