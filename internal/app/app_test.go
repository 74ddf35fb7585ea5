package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"moverwatch/internal/config"
	"moverwatch/internal/market"
	"moverwatch/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()
	chdirTemp(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return NewApp(cfg, zerolog.Nop())
}

func sampleAlerts(n int) []storage.AlertRecord {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.AlertRecord, n)
	for i := range out {
		tf := "1h"
		if i%2 == 1 {
			tf = "15m"
		}
		out[i] = storage.AlertRecord{
			CycleID:      "cycle",
			AssetID:      "asset",
			Symbol:       "AST",
			Name:         "Asset",
			Timeframe:    tf,
			Tier:         tf,
			ChangePct:    decimal.NewFromInt(int64(50 + i)),
			ThresholdPct: decimal.NewFromInt(50),
			Price:        decimal.NewFromFloat(1.25),
			Volume:       decimal.NewFromInt(10000),
			Delivered:    true,
			FiredAt:      start.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestSimulateAlertFires(t *testing.T) {
	a := testApp(t)

	report, err := a.SimulateAlert(context.Background(), SimulateOptions{
		AssetID: "pepe",
		Name:    "Pepe",
		Symbol:  "PEPE",
		Price:   0.001,
		Volume:  50000,
		Changes: map[market.Timeframe]float64{market.Timeframe1h: 60, market.Timeframe15m: 12},
	})
	if err != nil {
		t.Fatalf("simulate should succeed: %v", err)
	}
	if report.Fired != 1 {
		t.Fatalf("expected one fired alert, got %+v", report)
	}
}

func TestSimulateAlertDisabled(t *testing.T) {
	a := testApp(t)
	a.Config.Alerting.Enabled = false

	if _, err := a.SimulateAlert(context.Background(), SimulateOptions{AssetID: "x"}); err == nil {
		t.Fatal("disabled alerting should fail")
	}
}

func TestDatabaseCommandsRequireDSN(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err == nil {
		t.Fatal("show without database should fail")
	}
	if err := a.Export(ctx, ExportOptions{CSVPath: "out.csv"}); err == nil {
		t.Fatal("export without database should fail")
	}
	if err := a.Export(ctx, ExportOptions{}); err == nil {
		t.Fatal("export without outputs should fail")
	}
	if _, err := a.Prune(ctx, PruneOptions{OlderThan: time.Hour}); err == nil {
		t.Fatal("prune without database should fail")
	}
}

func TestDownsampleAlerts(t *testing.T) {
	alerts := sampleAlerts(10)

	if got := downsampleAlerts(alerts, 0); len(got) != 10 {
		t.Fatalf("max<=0 keeps everything, got %d", len(got))
	}
	got := downsampleAlerts(alerts, 4)
	if len(got) != 4 {
		t.Fatalf("expected 4 points, got %d", len(got))
	}
	if !got[0].FiredAt.Equal(alerts[0].FiredAt) || !got[3].FiredAt.Equal(alerts[9].FiredAt) {
		t.Fatal("downsampling should keep both endpoints")
	}
}

func TestWriteAlertsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeAlertsCSV(&buf, sampleAlerts(3)); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[1][0] != "2024-05-01T00:00:00Z" || rows[1][7] != "50" || rows[1][11] != "true" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
}

func TestWriteAlertTable(t *testing.T) {
	alerts := sampleAlerts(1)
	alerts[0].Symbol = "A\tB"

	var buf bytes.Buffer
	if err := writeAlertTable(&buf, alerts); err != nil {
		t.Fatalf("write table: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "A B") || !strings.Contains(out, "50.00") {
		t.Fatalf("unexpected table output %q", out)
	}
}

func TestWriteAlertsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "alerts.png")
	if err := writeAlertsPNG(path, sampleAlerts(5)); err != nil {
		t.Fatalf("render png: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png should be written: %v", err)
	}
}

func TestNewestFirst(t *testing.T) {
	alerts := sampleAlerts(5)

	got := newestFirst(alerts, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if !got[0].FiredAt.Equal(alerts[4].FiredAt) || !got[1].FiredAt.Equal(alerts[3].FiredAt) {
		t.Fatal("records should be newest first")
	}
	if all := newestFirst(alerts, 0); len(all) != 5 {
		t.Fatalf("limit 0 keeps every record, got %d", len(all))
	}
}

func TestNewSourceDerivesUnservedTimeframes(t *testing.T) {
	a := testApp(t)

	src, err := a.newSource()
	if err != nil {
		t.Fatalf("default source should build: %v", err)
	}
	if _, ok := src.(*market.DerivingSource); !ok {
		t.Fatalf("15m/30m rules need derivation over the default fields, got %T", src)
	}

	a.Config.Source.DeriveChanges = false
	if _, err := a.newSource(); err == nil {
		t.Fatal("unserved timeframes must fail when derivation is disabled")
	}

	a.Config.Policy.Rules = a.Config.Policy.Rules[2:]
	src, err = a.newSource()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*market.CoinGecko); !ok {
		t.Fatalf("1h-only policy should use the upstream directly, got %T", src)
	}
}

// chdirTemp changes the working directory to a fresh temp dir for the
// duration of the test (equivalent of testing.T.Chdir, unavailable before Go 1.24).
func chdirTemp(t *testing.T) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore cwd: %v", err)
		}
	})
}
