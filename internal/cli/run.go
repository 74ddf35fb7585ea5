package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the market source and dispatch threshold alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !runOnce {
			return getApp().Run(cmd.Context())
		}

		report, err := getApp().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		switch {
		case report.Skipped && report.CycleID == "":
			fmt.Fprintln(cmd.OutOrStdout(), "another instance holds the advisory lock; nothing evaluated")
		case report.RateLimited:
			fmt.Fprintln(cmd.OutOrStdout(), "source rate limited; no alerts evaluated")
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %d snapshots, %d fired, %d suppressed\n",
				report.CycleID, report.Snapshots, report.Fired, report.Suppressed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single evaluation cycle and exit")
}
