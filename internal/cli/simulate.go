package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"moverwatch/internal/app"
	"moverwatch/internal/market"
)

var (
	simulateID     string
	simulateName   string
	simulateSymbol string
	simulatePrice  float64
	simulateVolume float64
	simulate15m    float64
	simulate30m    float64
	simulate1h     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次资产快照并走完整个告警周期",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateID == "" {
			return errors.New("--id 必须提供")
		}
		if simulatePrice <= 0 || simulateVolume < 0 {
			return errors.New("--price 必须大于 0，--volume 不能为负")
		}

		opts := app.SimulateOptions{
			AssetID: simulateID,
			Name:    simulateName,
			Symbol:  simulateSymbol,
			Price:   simulatePrice,
			Volume:  simulateVolume,
			Changes: map[market.Timeframe]float64{},
		}
		changes := map[market.Timeframe]string{
			market.Timeframe15m: "change-15m",
			market.Timeframe30m: "change-30m",
			market.Timeframe1h:  "change-1h",
		}
		values := map[market.Timeframe]float64{
			market.Timeframe15m: simulate15m,
			market.Timeframe30m: simulate30m,
			market.Timeframe1h:  simulate1h,
		}
		for tf, flag := range changes {
			if cmd.Flags().Changed(flag) {
				opts.Changes[tf] = values[tf]
			}
		}

		report, err := getApp().SimulateAlert(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "candidates: %d, fired: %d, suppressed: %d, quiet notice: %t\n",
			report.Candidates, report.Fired, report.Suppressed, report.QuietSent)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateID, "id", "", "资产 ID")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "显示名称")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "交易符号")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 1, "当前价格")
	simulateCmd.Flags().Float64Var(&simulateVolume, "volume", 0, "成交量")
	simulateCmd.Flags().Float64Var(&simulate15m, "change-15m", 0, "15 分钟涨幅 %")
	simulateCmd.Flags().Float64Var(&simulate30m, "change-30m", 0, "30 分钟涨幅 %")
	simulateCmd.Flags().Float64Var(&simulate1h, "change-1h", 0, "1 小时涨幅 %")
}
