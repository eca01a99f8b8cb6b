package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/booking-orchestrator/internal/container"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		bundle, err := container.ProvideDatabase(&cfg.ToContainerConfig().Database, logger)
		if err != nil {
			return err
		}
		defer bundle.Conn.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date\n", bundle.Conn.Path())
		return nil
	},
}
