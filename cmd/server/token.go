package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/booking-orchestrator/internal/container"
)

func init() {
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token <agent-id>",
	Short: "Issue a bearer token for an existing agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		cc := cfg.ToContainerConfig()
		bundle, err := container.ProvideDatabase(&cc.Database, logger)
		if err != nil {
			return err
		}
		defer bundle.Conn.Close()

		repos := container.ProvideRepositories(bundle.TransactionMgr, logger)
		ident, err := container.ProvideIdentity(&cc.Auth, repos, logger)
		if err != nil {
			return err
		}

		token, err := ident.IssueToken(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
