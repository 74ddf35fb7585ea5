package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"moverwatch/internal/storage"
)

// Show prints recent alert records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var alerts []storage.AlertRecord
	if opts.Since > 0 {
		now := time.Now().UTC()
		window, listErr := store.ListAlertsBetween(ctx, now.Add(-opts.Since), now)
		if listErr != nil {
			return listErr
		}
		alerts = newestFirst(window, opts.Limit)
	} else {
		alerts, err = store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	return writeAlertTable(os.Stdout, alerts)
}

// newestFirst reverses an ascending window and keeps at most limit records.
func newestFirst(alerts []storage.AlertRecord, limit int) []storage.AlertRecord {
	n := len(alerts)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]storage.AlertRecord, 0, n)
	for i := len(alerts) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, alerts[i])
	}
	return out
}

func writeAlertTable(out io.Writer, alerts []storage.AlertRecord) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tAsset\tSymbol\tTier\tChange%\tThreshold%\tPrice\tVolume\tDelivered")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			alert.FiredAt.UTC().Format(time.RFC3339),
			sanitizeInline(alert.AssetID),
			sanitizeInline(alert.Symbol),
			sanitizeInline(alert.Tier),
			alert.ChangePct.StringFixed(2),
			alert.ThresholdPct.StringFixed(2),
			alert.Price.String(),
			alert.Volume.StringFixed(0),
			alert.Delivered,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
