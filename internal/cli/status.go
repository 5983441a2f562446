package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-move-alerts/internal/app"
)

var (
	statusOwner string
	stopOwner   string
	alertsLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List live monitors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), app.StatusOptions{Owner: statusOwner})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <token>",
	Short: "Remove a monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Stop(cmd.Context(), stopOwner, args[0])
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent alerts from the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Alerts(cmd.Context(), alertsLimit)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "Only show monitors of this owner")
	stopCmd.Flags().StringVar(&stopOwner, "owner", "", "Owner of the monitor (empty for watch-mode monitors)")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")
}
