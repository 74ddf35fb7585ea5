package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"moverwatch/internal/app"
)

var (
	showLimit int
	showSince time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showSince < 0 {
			return fmt.Errorf("--since cannot be negative")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit: showLimit,
			Since: showSince,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display")
	showCmd.Flags().DurationVar(&showSince, "since", 0, "Only show alerts fired within this window (e.g. 6h)")
}
