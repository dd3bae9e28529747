package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the analytics report as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  exportAnalytics,
}

func exportAnalytics(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.collector == nil {
		return fmt.Errorf("analytics database is not configured")
	}

	path := "analytics-export.json"
	if len(args) == 1 {
		path = args[0]
	}
	if err := a.collector.ExportJSON(cmd.Context(), path); err != nil {
		return fmt.Errorf("export analytics: %w", err)
	}
	a.logger.Success(fmt.Sprintf("Exported analytics to %s", path))
	return nil
}
