package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bulk-importer/internal/history"
)

func newRunsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recorded import runs",
		Long:  `Prints run history newest first. Requires database.history_enabled.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var filter *history.RunStatus
			if status != "" {
				s := history.RunStatus(status)
				filter = &s
			}
			runs, err := appInstance.History().ListRuns(cmd.Context(), filter, limit, 0)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(runs); err != nil {
				return fmt.Errorf("write runs: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to print")
	return cmd
}
