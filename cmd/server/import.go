package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/booking-orchestrator/internal/application/batch"
	"github.com/garyjia/booking-orchestrator/internal/container"
	"github.com/garyjia/booking-orchestrator/internal/domain/entity"
)

var (
	importAgentID    string
	importCustomerID int64
	importBatchName  string
	importReportPath string
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importAgentID, "agent", "", "submitting agent id (required)")
	importCmd.Flags().Int64Var(&importCustomerID, "customer", 0, "customer id the bookings are for (required)")
	importCmd.Flags().StringVar(&importBatchName, "name", "", "batch name (defaults to the file name)")
	importCmd.Flags().StringVar(&importReportPath, "report", "", "write the outcome report to this .xlsx path")
	_ = importCmd.MarkFlagRequired("agent")
	_ = importCmd.MarkFlagRequired("customer")
}

var importCmd = &cobra.Command{
	Use:   "import <bookings.xlsx>",
	Short: "Submit a spreadsheet of bookings as one batch and process it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync()

		cc := cfg.ToContainerConfig()
		// The command exits once Submit returns, so processing cannot be deferred.
		cc.Batch.ProcessInline = true
		cc.Batch.ResumeInterval = 0

		c, err := container.NewContainer(cc, logger)
		if err != nil {
			return err
		}
		if err := c.Start(cmd.Context()); err != nil {
			_ = c.Close()
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		agent, err := c.Repositories().Agents.GetByID(ctx, importAgentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return fmt.Errorf("agent %q not found", importAgentID)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		items, err := c.Importer().ParseBookings(f)
		if err != nil {
			return err
		}

		name := importBatchName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		caller := entity.Caller{AgentID: agent.ID, Permissions: agent.Permissions}
		b, err := c.Batches().Submit(ctx, caller, batch.SubmitRequest{
			CustomerID: importCustomerID,
			BatchName:  name,
			Items:      items,
		})
		if err != nil {
			return err
		}

		logger.Info("Batch imported",
			zap.String("batch_number", b.BatchNumber),
			zap.String("status", b.Status),
			zap.Int("successful", b.SuccessfulItems),
			zap.Int("failed", b.FailedItems))

		if importReportPath != "" {
			out, err := os.Create(importReportPath)
			if err != nil {
				return err
			}
			defer out.Close()
			if err := c.Reporter().WriteReport(out, b); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d succeeded, %d failed of %d\n",
			b.BatchNumber, b.Status, b.SuccessfulItems, b.FailedItems, b.TotalItems)
		return nil
	},
}
