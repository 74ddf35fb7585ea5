package alerting

import (
	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
)

// AlertKey identifies one deduplication slot.
type AlertKey struct {
	AssetID   string
	Timeframe market.Timeframe
}

func (k AlertKey) String() string {
	return k.AssetID + "/" + string(k.Timeframe)
}

// Candidate is a snapshot/timeframe pair whose change met its threshold.
type Candidate struct {
	Key          AlertKey
	Tier         string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Snapshot     market.Snapshot
}

// Evaluate applies the policy to one batch of snapshots. Malformed snapshots
// and snapshots below the volume floor produce nothing; output follows input order.
func Evaluate(snapshots []market.Snapshot, policy Policy) []Candidate {
	rules := policy.Ordered()
	candidates := make([]Candidate, 0)

	for _, snap := range snapshots {
		if !snap.WellFormed() {
			continue
		}
		if snap.Volume.Decimal.LessThan(policy.MinVolume) {
			continue
		}

		for _, rule := range rules {
			change := snap.Change(rule.Timeframe)
			if change.LessThan(rule.ThresholdPct) {
				continue
			}
			candidates = append(candidates, Candidate{
				Key:          AlertKey{AssetID: snap.ID, Timeframe: rule.Timeframe},
				Tier:         rule.Tier,
				ChangePct:    change,
				ThresholdPct: rule.ThresholdPct,
				Snapshot:     snap,
			})
			if policy.Mode != ModeAll {
				break
			}
		}
	}

	return candidates
}
