package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
	"moverwatch/internal/service"
)

// SimulateAlert 通过给定的快照模拟一次完整的评估周期。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (service.CycleReport, error) {
	if !a.Config.Alerting.Enabled {
		return service.CycleReport{}, errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return service.CycleReport{}, errors.New("未配置任何告警通道")
	}

	policy, err := a.Config.AlertPolicy()
	if err != nil {
		return service.CycleReport{}, err
	}

	src := &staticSource{snapshot: buildSnapshot(opts)}
	svc := service.New(service.Deps{
		Source:       src,
		Policy:       policy,
		Notifier:     notifier,
		LinkTemplate: a.Config.Alerting.LinkTemplate,
	}, a.Logger)

	report, err := svc.RunCycle(ctx, time.Now().UTC())
	if err != nil {
		return report, fmt.Errorf("simulate cycle: %w", err)
	}
	return report, nil
}

func buildSnapshot(opts SimulateOptions) market.Snapshot {
	snap := market.Snapshot{
		ID:      opts.AssetID,
		Name:    opts.Name,
		Symbol:  opts.Symbol,
		Price:   decimal.NewNullDecimal(decimal.NewFromFloat(opts.Price)),
		Volume:  decimal.NewNullDecimal(decimal.NewFromFloat(opts.Volume)),
		Changes: make(map[market.Timeframe]decimal.NullDecimal, len(opts.Changes)),
	}
	for tf, v := range opts.Changes {
		snap.Changes[tf] = decimal.NewNullDecimal(decimal.NewFromFloat(v))
	}
	return snap
}

type staticSource struct {
	snapshot market.Snapshot
}

func (s *staticSource) FetchSnapshots(ctx context.Context) ([]market.Snapshot, error) {
	return []market.Snapshot{s.snapshot}, nil
}

var _ market.Source = (*staticSource)(nil)
