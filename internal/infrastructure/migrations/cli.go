package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// CLI is the command-line interface for managing migrations
type CLI struct {
	manager *Manager
	logger  *slog.Logger
}

// NewCLI constructs the CLI
func NewCLI(manager *Manager, logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}

	return &CLI{manager: manager, logger: logger}
}

// GetRootCommand returns the CLI's root command
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management tool",
		Long:  "Apply and inspect the lifecycle schema's migrations.",
	}

	rootCmd.AddCommand(
		cli.upCommand(),
		cli.downCommand(),
		cli.statusCommand(),
		cli.versionCommand(),
	)

	return rootCmd
}

// upCommand applies migrations
func (cli *CLI) upCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up [version]",
		Short: "Apply migrations",
		Long:  "Apply all pending migrations or up to a specific version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Up(ctx)
			} else {
				version, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid version number: %w", parseErr)
				}
				err = cli.manager.UpTo(ctx, version)
			}

			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("Migrations applied successfully")
			return nil
		},
	}

	return cmd
}

// downCommand rolls back migrations
func (cli *CLI) downCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down [version]",
		Short: "Rollback migrations",
		Long:  "Rollback all migrations or down to a specific version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			var err error
			if len(args) == 0 {
				err = cli.manager.Down(ctx)
			} else {
				version, parseErr := strconv.ParseInt(args[0], 10, 64)
				if parseErr != nil {
					return fmt.Errorf("invalid version number: %w", parseErr)
				}
				err = cli.manager.DownTo(ctx, version)
			}

			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			fmt.Println("Migrations rolled back successfully")
			return nil
		},
	}

	return cmd
}

// statusCommand reports migration status
func (cli *CLI) statusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Show the current status of the lifecycle schema's migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			status, err := cli.manager.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			applied := "NO"
			if status.IsApplied {
				applied = "YES"
			}

			fmt.Printf("%-10s %-15s %s\n", "VERSION", "APPLIED", "TIMESTAMP")
			fmt.Println(strings.Repeat("-", 50))
			fmt.Printf("%-10d %-15s %s\n",
				status.VersionID, applied, status.Timestamp.Format("2006-01-02 15:04"))

			return nil
		},
	}

	return cmd
}

// versionCommand reports the current version
func (cli *CLI) versionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		Long:  "Show the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			version, err := cli.manager.Version(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration version: %w", err)
			}

			fmt.Printf("Current migration version: %d\n", version)
			return nil
		},
	}

	return cmd
}

// Execute runs the CLI
func (cli *CLI) Execute() error {
	return cli.GetRootCommand().Execute()
}
