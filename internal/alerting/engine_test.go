package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moverwatch/internal/market"
)

func testPolicy() Policy {
	return Policy{
		Rules: []Rule{
			{Timeframe: market.Timeframe15m, ThresholdPct: decimal.NewFromInt(10), Tier: "15m"},
			{Timeframe: market.Timeframe30m, ThresholdPct: decimal.NewFromInt(20), Tier: "30m"},
			{Timeframe: market.Timeframe1h, ThresholdPct: decimal.NewFromInt(50), Tier: "1h"},
		},
		MinVolume:         decimal.NewFromInt(1000),
		Cooldown:          time.Hour,
		QuietCooldown:     30 * time.Minute,
		RateLimitCooldown: 5 * time.Minute,
		Retention:         24 * time.Hour,
		Mode:              ModeFirstMatch,
	}
}

func snapshot(id string, volume int64, changes map[market.Timeframe]float64) market.Snapshot {
	snap := market.Snapshot{
		ID:      id,
		Name:    id,
		Symbol:  id,
		Price:   decimal.NewNullDecimal(decimal.NewFromInt(1)),
		Volume:  decimal.NewNullDecimal(decimal.NewFromInt(volume)),
		Changes: make(map[market.Timeframe]decimal.NullDecimal),
	}
	for tf, v := range changes {
		snap.Changes[tf] = decimal.NewNullDecimal(decimal.NewFromFloat(v))
	}
	return snap
}

func TestEvaluatePrecedence(t *testing.T) {
	snaps := []market.Snapshot{
		snapshot("all", 5000, map[market.Timeframe]float64{market.Timeframe15m: 15, market.Timeframe30m: 25, market.Timeframe1h: 55}),
		snapshot("short", 5000, map[market.Timeframe]float64{market.Timeframe15m: 12, market.Timeframe1h: 10}),
		snapshot("mid", 5000, map[market.Timeframe]float64{market.Timeframe15m: 11, market.Timeframe30m: 20}),
	}

	got := Evaluate(snaps, testPolicy())
	want := []struct {
		id   string
		tier string
	}{{"all", "1h"}, {"short", "15m"}, {"mid", "30m"}}

	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Key.AssetID != w.id || got[i].Tier != w.tier {
			t.Fatalf("candidate %d: want %s/%s, got %s/%s", i, w.id, w.tier, got[i].Key.AssetID, got[i].Tier)
		}
	}
}

func TestEvaluateAllMode(t *testing.T) {
	policy := testPolicy()
	policy.Mode = ModeAll
	snaps := []market.Snapshot{
		snapshot("all", 5000, map[market.Timeframe]float64{market.Timeframe15m: 15, market.Timeframe30m: 25, market.Timeframe1h: 55}),
	}

	got := Evaluate(snaps, policy)
	if len(got) != 3 {
		t.Fatalf("all mode should yield one candidate per matching rule, got %d", len(got))
	}
	if got[0].Tier != "1h" || got[2].Tier != "15m" {
		t.Fatalf("all mode should keep precedence order, got %s..%s", got[0].Tier, got[2].Tier)
	}
}

func TestEvaluateFilters(t *testing.T) {
	malformed := snapshot("", 5000, map[market.Timeframe]float64{market.Timeframe1h: 90})
	noPrice := snapshot("noprice", 5000, map[market.Timeframe]float64{market.Timeframe1h: 90})
	noPrice.Price = decimal.NullDecimal{}

	cases := []struct {
		name  string
		snaps []market.Snapshot
		want  int
	}{
		{"below min volume", []market.Snapshot{snapshot("thin", 999, map[market.Timeframe]float64{market.Timeframe1h: 500})}, 0},
		{"missing change", []market.Snapshot{snapshot("none", 5000, nil)}, 0},
		{"exact threshold", []market.Snapshot{snapshot("edge", 1000, map[market.Timeframe]float64{market.Timeframe1h: 50})}, 1},
		{"negative change", []market.Snapshot{snapshot("dump", 5000, map[market.Timeframe]float64{market.Timeframe1h: -80})}, 0},
		{"malformed mixed in", []market.Snapshot{malformed, noPrice, {}, snapshot("ok", 5000, map[market.Timeframe]float64{market.Timeframe30m: 21})}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.snaps, testPolicy()); len(got) != tc.want {
				t.Fatalf("expected %d candidates, got %d", tc.want, len(got))
			}
		})
	}
}

func TestDedupCooldownScenario(t *testing.T) {
	policy := testPolicy()
	store := NewDedupStore(policy.Cooldown, policy.Retention)
	snaps := []market.Snapshot{snapshot("x", 5000, map[market.Timeframe]float64{market.Timeframe1h: 55})}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	candidates := Evaluate(snaps, policy)
	if len(candidates) != 1 || candidates[0].Tier != "1h" {
		t.Fatalf("expected a single 1h candidate, got %+v", candidates)
	}
	c := candidates[0]

	if d := store.Evaluate(c, start); d != Fire {
		t.Fatalf("first evaluation should fire, got %s", d)
	}
	store.Fire(c.Key, start)

	if d := store.Evaluate(c, start.Add(10*time.Second)); d != Suppress {
		t.Fatalf("evaluation inside cooldown should suppress, got %s", d)
	}
	if d := store.Evaluate(c, start.Add(time.Hour)); d != Suppress {
		t.Fatalf("evaluation at exactly the cooldown boundary should suppress, got %s", d)
	}
	if d := store.Evaluate(c, start.Add(3601*time.Second)); d != Fire {
		t.Fatalf("evaluation after cooldown should fire, got %s", d)
	}
}

func TestDedupKeysAreIndependent(t *testing.T) {
	store := NewDedupStore(time.Hour, time.Hour)
	now := time.Now()
	a := Candidate{Key: AlertKey{AssetID: "a", Timeframe: market.Timeframe1h}}
	b := Candidate{Key: AlertKey{AssetID: "a", Timeframe: market.Timeframe15m}}

	store.Fire(a.Key, now)
	if store.Evaluate(a, now) != Suppress {
		t.Fatal("fired key should be suppressed")
	}
	if store.Evaluate(b, now) != Fire {
		t.Fatal("other timeframe of the same asset should still fire")
	}
}

func TestDedupPrune(t *testing.T) {
	store := NewDedupStore(time.Hour, 24*time.Hour)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	stale := AlertKey{AssetID: "old", Timeframe: market.Timeframe1h}
	fresh := AlertKey{AssetID: "new", Timeframe: market.Timeframe1h}

	store.Fire(stale, now.Add(-25*time.Hour))
	store.Fire(fresh, now.Add(-30*time.Minute))

	if removed := store.Prune(now); removed != 1 {
		t.Fatalf("expected 1 pruned key, got %d", removed)
	}
	if _, ok := store.LastFired(stale); ok {
		t.Fatal("stale key should be evicted")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 remaining key, got %d", store.Len())
	}
}

func TestRateLimitGuard(t *testing.T) {
	var guard RateLimitGuard
	now := time.Now()
	if guard.ShouldSkip(now) {
		t.Fatal("untriggered guard must not skip")
	}

	guard.TriggerCooldown(now, 5*time.Minute)
	if !guard.ShouldSkip(now.Add(4 * time.Minute)) {
		t.Fatal("guard should skip inside cooldown")
	}
	if guard.ShouldSkip(now.Add(5 * time.Minute)) {
		t.Fatal("guard should release once cooldown elapsed")
	}

	guard.TriggerCooldown(now.Add(5*time.Minute), 5*time.Minute)
	if got := guard.Until(); !got.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("repeated trigger must not escalate, until=%s", got)
	}
}

func TestQuietGate(t *testing.T) {
	gate := NewQuietGate(1800 * time.Second)
	now := time.Now()

	if !gate.ShouldNotifyQuiet(now) {
		t.Fatal("first quiet notice should be allowed")
	}
	gate.RecordQuietNotice(now)
	if gate.ShouldNotifyQuiet(now.Add(300 * time.Second)) {
		t.Fatal("quiet notice inside cooldown should be blocked")
	}
	if !gate.ShouldNotifyQuiet(now.Add(1800 * time.Second)) {
		t.Fatal("quiet notice after cooldown should be allowed")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := testPolicy().Validate(); err != nil {
		t.Fatalf("test policy should be valid: %v", err)
	}

	broken := []func(p *Policy){
		func(p *Policy) { p.Rules = nil },
		func(p *Policy) { p.Rules[0].Timeframe = "4h" },
		func(p *Policy) { p.Rules[1].Timeframe = market.Timeframe15m },
		func(p *Policy) { p.Rules[0].ThresholdPct = decimal.Zero },
		func(p *Policy) { p.Cooldown = 0 },
		func(p *Policy) { p.Retention = time.Minute },
		func(p *Policy) { p.Mode = "sometimes" },
	}
	for i, mutate := range broken {
		p := testPolicy()
		mutate(&p)
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
