package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-move-alerts/internal/app"
)

var (
	simulateToken    string
	simulateBaseline string
	simulatePrice    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格变动并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseline, err := decimal.NewFromString(simulateBaseline)
		if err != nil {
			return errors.New("--baseline 必须是数字")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return errors.New("--price 必须是数字")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Token:    simulateToken,
			Baseline: baseline,
			Price:    price,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateToken, "token", "SIMULATED", "Token identifier")
	simulateCmd.Flags().StringVar(&simulateBaseline, "baseline", "1", "基线价格")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "1.35", "模拟的当前价格")
}
