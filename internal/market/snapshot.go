package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateLimited is returned by a Source when the upstream API is throttling requests.
var ErrRateLimited = errors.New("market: upstream rate limited")

// Timeframe is a lookback window over which price change is measured.
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
}

// Duration returns the window length, or zero for unknown timeframes.
func (t Timeframe) Duration() time.Duration {
	return timeframeDurations[t]
}

// Valid reports whether t is a supported timeframe.
func (t Timeframe) Valid() bool {
	_, ok := timeframeDurations[t]
	return ok
}

// ParseTimeframe validates a configured timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Timeframes lists supported timeframes from shortest to longest.
func Timeframes() []Timeframe {
	out := make([]Timeframe, 0, len(timeframeDurations))
	for tf := range timeframeDurations {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration() < out[j].Duration() })
	return out
}

// Snapshot is one asset's market state as observed in a single poll.
type Snapshot struct {
	ID      string
	Name    string
	Symbol  string
	Price   decimal.NullDecimal
	Volume  decimal.NullDecimal
	Changes map[Timeframe]decimal.NullDecimal
}

// WellFormed reports whether the snapshot carries the fields evaluation needs.
func (s Snapshot) WellFormed() bool {
	return s.ID != "" && s.Price.Valid && s.Volume.Valid
}

// Change returns the percentage change for tf; absent values read as zero.
func (s Snapshot) Change(tf Timeframe) decimal.Decimal {
	if v, ok := s.Changes[tf]; ok && v.Valid {
		return v.Decimal
	}
	return decimal.Zero
}

// DisplayName prefers the asset name, falling back to symbol then id.
func (s Snapshot) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Symbol != "":
		return s.Symbol
	default:
		return s.ID
	}
}

// Source produces a batch of snapshots per poll.
type Source interface {
	FetchSnapshots(ctx context.Context) ([]Snapshot, error)
}
