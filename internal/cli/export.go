package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"moverwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportLast      time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alert history as CSV and/or a PNG change chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		to, err := parseTimestampFlag("--to", exportTo)
		if err != nil {
			return err
		}
		opts.To = to

		from, err := parseTimestampFlag("--from", exportFrom)
		if err != nil {
			return err
		}
		if exportLast > 0 {
			if from != nil {
				return errors.New("--from and --last are mutually exclusive")
			}
			end := time.Now().UTC()
			if to != nil {
				end = *to
			}
			start := end.Add(-exportLast)
			from = &start
		}
		opts.From = from

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimestampFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return &ts, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive; defaults to 7 days before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive; defaults to now)")
	exportCmd.Flags().DurationVar(&exportLast, "last", 0, "Export the window of this length ending at --to")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
