package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-move-alerts/internal/app"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <token>",
	Short: "Monitor one token for 24 hours and print a summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchInterval < 0 {
			return fmt.Errorf("--interval must not be negative")
		}
		return getApp().Watch(cmd.Context(), app.WatchOptions{
			Token:    args[0],
			Interval: watchInterval,
		})
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Poll interval (defaults to monitor.poll_interval)")
}
