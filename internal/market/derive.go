package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// DerivingSource fills timeframe changes the upstream does not report from
// prices observed on earlier polls. A timeframe becomes available once a
// sample at least one window old exists, so alerts on it start after warm-up.
// It is not safe for concurrent use; the evaluation loop is its only caller.
type DerivingSource struct {
	inner   Source
	derive  []Timeframe
	horizon time.Duration
	history map[string][]pricePoint
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDerivingSource wraps inner and derives the given timeframes when the
// upstream leaves them empty.
func NewDerivingSource(inner Source, derive []Timeframe, logger zerolog.Logger) *DerivingSource {
	var horizon time.Duration
	for _, tf := range derive {
		if w := tf.Duration() + staleness(tf); w > horizon {
			horizon = w
		}
	}
	return &DerivingSource{
		inner:   inner,
		derive:  derive,
		horizon: horizon,
		history: make(map[string][]pricePoint),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "change_deriver").Logger(),
	}
}

// staleness is how far past the window a reference sample may lie; beyond it
// a polling gap would stretch the measured window too much.
func staleness(tf Timeframe) time.Duration {
	return tf.Duration() / 4
}

// FetchSnapshots fetches from the wrapped source and fills derivable changes.
func (d *DerivingSource) FetchSnapshots(ctx context.Context) ([]Snapshot, error) {
	snaps, err := d.inner.FetchSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	now := d.now()
	derived := 0
	for i := range snaps {
		snap := &snaps[i]
		if !snap.WellFormed() {
			continue
		}
		for _, tf := range d.derive {
			if v, ok := snap.Changes[tf]; ok && v.Valid {
				continue
			}
			pct, ok := d.changeOver(snap.ID, now, tf, snap.Price.Decimal)
			if !ok {
				continue
			}
			if snap.Changes == nil {
				snap.Changes = make(map[Timeframe]decimal.NullDecimal, len(d.derive))
			}
			snap.Changes[tf] = decimal.NewNullDecimal(pct)
			derived++
		}
		d.history[snap.ID] = append(d.history[snap.ID], pricePoint{at: now, price: snap.Price.Decimal})
	}
	d.evict(now)

	d.logger.Debug().Int("derived", derived).Int("tracked_assets", len(d.history)).Msg("derived timeframe changes")
	return snaps, nil
}

// changeOver measures the change against the newest sample that is at least
// one window old and not stale.
func (d *DerivingSource) changeOver(id string, now time.Time, tf Timeframe, price decimal.Decimal) (decimal.Decimal, bool) {
	points := d.history[id]
	cutoff := now.Add(-tf.Duration())
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		if p.at.After(cutoff) {
			continue
		}
		if cutoff.Sub(p.at) > staleness(tf) || p.price.IsZero() {
			return decimal.Decimal{}, false
		}
		return price.Sub(p.price).Div(p.price).Mul(hundred), true
	}
	return decimal.Decimal{}, false
}

func (d *DerivingSource) evict(now time.Time) {
	oldest := now.Add(-d.horizon)
	for id, points := range d.history {
		keep := 0
		for keep < len(points) && points[keep].at.Before(oldest) {
			keep++
		}
		if keep == len(points) {
			delete(d.history, id)
			continue
		}
		d.history[id] = points[keep:]
	}
}

var _ Source = (*DerivingSource)(nil)
