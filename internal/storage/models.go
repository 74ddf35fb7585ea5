package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures an accepted alert for auditing, show and export.
type AlertRecord struct {
	ID           int64
	CycleID      string
	AssetID      string
	Symbol       string
	Name         string
	Timeframe    string
	Tier         string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Price        decimal.Decimal
	Volume       decimal.Decimal
	Delivered    bool
	FiredAt      time.Time
	CreatedAt    time.Time
}
