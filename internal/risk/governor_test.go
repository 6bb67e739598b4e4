package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

func testRules() config.RiskConfig {
	return config.RiskConfig{
		Timezone:              "UTC",
		SessionOpen:           "17:00",
		SessionClose:          "15:10",
		NoNewTradesAfter:      "14:45",
		HardCloseAt:           "15:05",
		DailyLossHaltFraction: 0.95,
		DrawdownBuffer:        0.05,
		MaxConsecutiveLosses:  3,
		DailyBudgetFraction:   0.8,
	}
}

func newTestGovernor(t *testing.T) *Governor {
	t.Helper()
	profile, ok := ProfileFor("50k")
	require.True(t, ok)

	g, err := NewGovernor(profile, testRules(), config.AccountConfig{
		Name:                "express-1",
		RiskPerTradePercent: 1.5,
		MinPositionSize:     1,
		MaxPositionSize:     5,
	})
	require.NoError(t, err)

	// Evening session, well clear of every clock gate.
	setClock(g, time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))
	return g
}

func setClock(g *Governor, ts time.Time) {
	g.mu.Lock()
	g.now = func() time.Time { return ts }
	g.currentDay = ts.In(g.loc).Format("2006-01-02")
	g.mu.Unlock()
}

func advanceClock(g *Governor, ts time.Time) {
	g.mu.Lock()
	g.now = func() time.Time { return ts }
	g.mu.Unlock()
}

func mesSignal() model.Signal {
	return model.Signal{
		Symbol:     "MES",
		Side:       model.SideBuy,
		EntryPrice: 4000,
		StopLoss:   3990,
		TakeProfit: 4020,
	}
}

func TestFreshAccountCanTrade(t *testing.T) {
	g := newTestGovernor(t)
	assert.True(t, g.CanTrade())
	halted, _ := g.Halted()
	assert.False(t, halted)
}

func TestOutsideSessionBlocksWithoutLatching(t *testing.T) {
	g := newTestGovernor(t)

	// 16:00 sits between the 15:10 close and the 17:00 reopen.
	advanceClock(g, time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC))
	assert.False(t, g.CanTrade())
	halted, _ := g.Halted()
	assert.False(t, halted, "session gate must not latch, the evening reopen is the same calendar day")

	advanceClock(g, time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))
	assert.True(t, g.CanTrade())
}

func TestDailyLossHaltLatchesUntilRollover(t *testing.T) {
	g := newTestGovernor(t)

	g.UpdatePnL(-950)
	assert.False(t, g.CanTrade())
	halted, reason := g.Halted()
	require.True(t, halted)
	assert.Equal(t, ReasonDailyLoss, reason)

	// A winning trade does not unlatch the halt.
	g.UpdatePnL(600)
	assert.False(t, g.CanTrade())

	// Same-day rollover call is a no-op.
	g.ResetDailyTracking()
	assert.False(t, g.CanTrade())

	advanceClock(g, time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC))
	g.ResetDailyTracking()
	assert.True(t, g.CanTrade())
	halted, _ = g.Halted()
	assert.False(t, halted)
}

func TestProfitableDayNeverTripsDailyLossHalt(t *testing.T) {
	g := newTestGovernor(t)
	g.UpdatePnL(960)
	assert.True(t, g.CanTrade())
}

func TestTrailingDrawdownHalts(t *testing.T) {
	g := newTestGovernor(t)

	// Grind the balance down across three sessions so neither the daily
	// loss rule nor the streak breaker fires first. Floor is 48000 and the
	// buffer adds 100, so 48050 is inside the halt zone.
	g.UpdatePnL(-900)
	advanceClock(g, time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC))
	g.ResetDailyTracking()
	g.UpdatePnL(-900)
	advanceClock(g, time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC))
	g.ResetDailyTracking()
	g.UpdatePnL(-150)

	assert.False(t, g.CanTrade())
	halted, reason := g.Halted()
	require.True(t, halted)
	assert.Equal(t, ReasonDrawdown, reason)
}

func TestConsecutiveLossStreakHalts(t *testing.T) {
	g := newTestGovernor(t)

	g.UpdatePnL(-50)
	g.UpdatePnL(-50)
	assert.True(t, g.CanTrade())

	g.UpdatePnL(-50)
	assert.False(t, g.CanTrade())
	_, reason := g.Halted()
	assert.Equal(t, ReasonLossStreak, reason)
}

func TestWinResetsLossStreak(t *testing.T) {
	g := newTestGovernor(t)

	g.UpdatePnL(-50)
	g.UpdatePnL(-50)
	g.UpdatePnL(25)
	g.UpdatePnL(-50)
	assert.True(t, g.CanTrade())
}

func TestHighWaterMarkNeverDecreases(t *testing.T) {
	g := newTestGovernor(t)

	g.UpdatePnL(500)
	assert.Equal(t, 50500.0, g.Snapshot().HighWaterMark)

	g.UpdatePnL(-300)
	assert.Equal(t, 50500.0, g.Snapshot().HighWaterMark)
}

func TestPositionSizing(t *testing.T) {
	g := newTestGovernor(t)

	// 50000 at 1.5% is 750 risk dollars; a 10-point stop on MES risks $50
	// per contract, so raw sizing says 15 and the max clamp takes it to 5.
	assert.Equal(t, 5, g.PositionSize(mesSignal()))
}

func TestPositionSizeZeroOnDegenerateStop(t *testing.T) {
	g := newTestGovernor(t)

	sig := mesSignal()
	sig.StopLoss = sig.EntryPrice
	assert.Equal(t, 0, g.PositionSize(sig))
}

func TestPositionSizeShrinksWithSpentDailyBudget(t *testing.T) {
	g := newTestGovernor(t)

	// 900 of the 1000 daily budget is gone; 80% of the remaining 100
	// covers exactly two $50-per-contract risk units, minus flooring.
	g.UpdatePnL(-900)
	assert.Equal(t, 1, g.PositionSize(mesSignal()))
}

func TestCheckTradeRiskAuthorizesAndSizes(t *testing.T) {
	g := newTestGovernor(t)

	decision := g.CheckTradeRisk(mesSignal())
	require.True(t, decision.Authorized)
	assert.Equal(t, 5, decision.SizedQuantity)
	assert.Empty(t, decision.Reason)
}

func TestCheckTradeRiskBlocksNearClose(t *testing.T) {
	g := newTestGovernor(t)

	// 14:50 is inside the session but past the no-new-trades cutoff.
	advanceClock(g, time.Date(2026, 3, 3, 14, 50, 0, 0, time.UTC))
	decision := g.CheckTradeRisk(mesSignal())
	assert.False(t, decision.Authorized)
	assert.Equal(t, reasonNearClose, decision.Reason)

	advanceClock(g, time.Date(2026, 3, 3, 15, 7, 0, 0, time.UTC))
	decision = g.CheckTradeRisk(mesSignal())
	assert.False(t, decision.Authorized)
}

func TestCheckTradeRiskReportsSessionGate(t *testing.T) {
	g := newTestGovernor(t)

	advanceClock(g, time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC))
	decision := g.CheckTradeRisk(mesSignal())
	assert.False(t, decision.Authorized)
	assert.Equal(t, reasonOutsideHrs, decision.Reason)
}

func TestSnapshotRestoreSameDay(t *testing.T) {
	g := newTestGovernor(t)
	g.UpdatePnL(-950)
	assert.False(t, g.CanTrade()) // latch

	restored := newTestGovernor(t)
	restored.Restore(g.Snapshot())

	halted, reason := restored.Halted()
	require.True(t, halted)
	assert.Equal(t, ReasonDailyLoss, reason)
	assert.Equal(t, -950.0, restored.Snapshot().DailyPnL)
}

func TestRestoreStaleSnapshotKeepsTotalsOnly(t *testing.T) {
	g := newTestGovernor(t)
	g.UpdatePnL(-950)
	assert.False(t, g.CanTrade())
	snap := g.Snapshot()

	restored := newTestGovernor(t)
	setClock(restored, time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC))
	restored.Restore(snap)

	halted, _ := restored.Halted()
	assert.False(t, halted, "a halt from a previous trading day must not survive restore")
	assert.Equal(t, 0.0, restored.Snapshot().DailyPnL)
	assert.Equal(t, -950.0, restored.Snapshot().TotalPnL)
}

func TestRestoreNeverLowersHighWaterMark(t *testing.T) {
	restored := newTestGovernor(t)
	restored.Restore(Snapshot{HighWaterMark: 49000, Day: "2026-03-03"})
	assert.Equal(t, 50000.0, restored.Snapshot().HighWaterMark)
}

func TestMaxContractsForScalingPlan(t *testing.T) {
	profile, _ := ProfileFor("50k")
	cases := []struct {
		balance float64
		want    int
	}{
		{1000, 2},
		{1499, 2},
		{2999, 3},
		{4999, 4},
		{5000, 5},
		{50000, 5},
	}
	for _, tc := range cases {
		if got := profile.MaxContractsFor(tc.balance); got != tc.want {
			t.Errorf("MaxContractsFor(%v) = %d, want %d", tc.balance, got, tc.want)
		}
	}
}

func TestTickValueDefaults(t *testing.T) {
	assert.Equal(t, 5.0, TickValue("mes"))
	assert.Equal(t, 2.0, TickValue("MNQ"))
	assert.Equal(t, 1.0, TickValue("MGC"))
	assert.Equal(t, 1.0, TickValue("ZB"))
}

func TestPastHardCloseWindow(t *testing.T) {
	g := newTestGovernor(t)

	// Mid evening session, nowhere near the close.
	setClock(g, time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC))
	assert.False(t, g.PastHardClose())

	// Inside the liquidation window between 15:05 and 15:10.
	setClock(g, time.Date(2026, 3, 4, 15, 7, 0, 0, time.UTC))
	assert.True(t, g.PastHardClose())

	// The no-new-trades blackout before it does not force liquidation.
	setClock(g, time.Date(2026, 3, 4, 14, 50, 0, 0, time.UTC))
	assert.False(t, g.PastHardClose())

	// After the session close the window is over.
	setClock(g, time.Date(2026, 3, 4, 15, 11, 0, 0, time.UTC))
	assert.False(t, g.PastHardClose())
}
