package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"moverwatch/internal/storage"
)

// Export renders alert history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-7 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	downsampled := downsampleAlerts(alerts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(alerts)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSVFile(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleAlerts(alerts []storage.AlertRecord, max int) []storage.AlertRecord {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	if max == 1 {
		return alerts[:1]
	}

	result := make([]storage.AlertRecord, 0, max)
	step := float64(len(alerts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(alerts) {
			idx = len(alerts) - 1
		}
		result = append(result, alerts[idx])
	}
	return result
}

func writeAlertsCSVFile(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeAlertsCSV(file, alerts)
}

func writeAlertsCSV(out io.Writer, alerts []storage.AlertRecord) error {
	writer := csv.NewWriter(out)

	header := []string{"fired_at", "cycle_id", "asset_id", "symbol", "name", "timeframe", "tier", "change_pct", "threshold_pct", "price", "volume", "delivered"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, alert := range alerts {
		record := []string{
			alert.FiredAt.UTC().Format(time.RFC3339),
			alert.CycleID,
			alert.AssetID,
			alert.Symbol,
			alert.Name,
			alert.Timeframe,
			alert.Tier,
			alert.ChangePct.String(),
			alert.ThresholdPct.String(),
			alert.Price.String(),
			alert.Volume.String(),
			strconv.FormatBool(alert.Delivered),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeAlertsPNG plots measured change per timeframe over time.
func writeAlertsPNG(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type points struct {
		x []time.Time
		y []float64
	}
	byTimeframe := make(map[string]*points)
	for _, alert := range alerts {
		p, ok := byTimeframe[alert.Timeframe]
		if !ok {
			p = &points{}
			byTimeframe[alert.Timeframe] = p
		}
		p.x = append(p.x, alert.FiredAt)
		p.y = append(p.y, alert.ChangePct.InexactFloat64())
	}

	timeframes := make([]string, 0, len(byTimeframe))
	for tf := range byTimeframe {
		timeframes = append(timeframes, tf)
	}
	sort.Strings(timeframes)

	series := make([]chart.Series, 0, len(timeframes))
	for _, tf := range timeframes {
		p := byTimeframe[tf]
		// go-chart needs at least two points to draw a line
		if len(p.x) == 1 {
			p.x = append(p.x, p.x[0].Add(time.Second))
			p.y = append(p.y, p.y[0])
		}
		series = append(series, chart.TimeSeries{
			Name:    "Change % (" + tf + ")",
			XValues: p.x,
			YValues: p.y,
		})
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
