package risk

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Halt reasons. The first rule to fire latches; later calls are idempotent.
const (
	ReasonDailyLoss  = "approaching daily loss limit"
	ReasonDrawdown   = "approaching trailing max drawdown"
	ReasonLossStreak = "consecutive loss circuit breaker"
	reasonHalted     = "trading halted"
	reasonOutsideHrs = "outside trading hours"
	reasonNearClose  = "inside pre-close blackout"
	reasonZeroSize   = "computed position size is zero"
)

// Governor is the per-account rule engine. Every order the engine submits
// passes through it first; it never returns errors, only decisions. One
// Governor exists per account execution context and is handed around by
// reference, so two accounts can never share risk state.
type Governor struct {
	profile AccountProfile
	rules   config.RiskConfig
	log     *slog.Logger

	riskPerTradePct float64
	minSize         int
	maxSize         int
	loc             *time.Location

	sessionOpen  int // minutes of day in loc
	sessionClose int
	noNewTrades  int
	hardClose    int

	// unrealized optionally supplies open-position P&L for balance math.
	unrealized func() float64

	mu                sync.Mutex
	totalPnL          decimal.Decimal
	dailyPnL          decimal.Decimal
	bestDayProfit     decimal.Decimal
	highWaterMark     decimal.Decimal
	consecutiveLosses int
	halted            bool
	haltReason        string
	currentDay        string

	now func() time.Time
}

func NewGovernor(profile AccountProfile, rules config.RiskConfig, acct config.AccountConfig) (*Governor, error) {
	loc, err := time.LoadLocation(rules.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load risk timezone %q: %w", rules.Timezone, err)
	}

	g := &Governor{
		profile:         profile,
		rules:           rules,
		log:             logger.Component("risk").With(slog.String("account", acct.Name)),
		riskPerTradePct: acct.RiskPerTradePercent,
		minSize:         acct.MinPositionSize,
		maxSize:         acct.MaxPositionSize,
		loc:             loc,
		highWaterMark:   decimal.NewFromFloat(profile.AccountSize),
		now:             time.Now,
	}
	if g.riskPerTradePct <= 0 {
		g.riskPerTradePct = 1.5
	}
	if g.minSize <= 0 {
		g.minSize = 1
	}
	if g.maxSize <= 0 {
		g.maxSize = 5
	}

	if g.sessionOpen, err = parseClock(rules.SessionOpen); err != nil {
		return nil, err
	}
	if g.sessionClose, err = parseClock(rules.SessionClose); err != nil {
		return nil, err
	}
	if g.noNewTrades, err = parseClock(rules.NoNewTradesAfter); err != nil {
		return nil, err
	}
	if g.hardClose, err = parseClock(rules.HardCloseAt); err != nil {
		return nil, err
	}

	g.currentDay = g.now().In(loc).Format("2006-01-02")
	return g, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock value %q", s)
	}
	return h*60 + m, nil
}

// SetUnrealizedSource wires in the position tracker's open P&L so sizing
// works from the marked balance rather than realized-only.
func (g *Governor) SetUnrealizedSource(f func() float64) {
	g.mu.Lock()
	g.unrealized = f
	g.mu.Unlock()
}

// CanTrade evaluates the halt rules. Loss, drawdown and streak violations
// latch until daily rollover; the session-window gates do not latch, since
// the same calendar day reopens at the evening session.
func (g *Governor) CanTrade() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canTradeLocked()
}

func (g *Governor) canTradeLocked() bool {
	if g.halted {
		return false
	}

	if !g.insideSession(g.now().In(g.loc)) {
		return false
	}

	limit := decimal.NewFromFloat(g.profile.DailyLossLimit)
	haltAt := limit.Mul(decimal.NewFromFloat(g.rules.DailyLossHaltFraction))
	if g.dailyPnL.Abs().GreaterThanOrEqual(haltAt) && g.dailyPnL.IsNegative() {
		g.haltLocked(ReasonDailyLoss)
		return false
	}

	// Halt before the trailing floor is actually breached: anything inside
	// the buffer fraction of the max drawdown counts as too close.
	balance := g.balanceLocked()
	maxDD := decimal.NewFromFloat(g.profile.MaxDrawdownLimit)
	floor := g.highWaterMark.Sub(maxDD)
	buffered := floor.Add(maxDD.Mul(decimal.NewFromFloat(g.rules.DrawdownBuffer)))
	if balance.LessThanOrEqual(buffered) {
		g.haltLocked(ReasonDrawdown)
		return false
	}

	if g.consecutiveLosses >= g.rules.MaxConsecutiveLosses {
		g.haltLocked(ReasonLossStreak)
		return false
	}

	return true
}

// CheckTradeRisk gates one signal: halt rules, the pre-close blackout and
// a positive computed size all have to pass. Denials are decisions, not
// errors.
func (g *Governor) CheckTradeRisk(sig model.Signal) model.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.canTradeLocked() {
		reason := g.haltReason
		if reason == "" {
			if !g.insideSession(g.now().In(g.loc)) {
				reason = reasonOutsideHrs
			} else {
				reason = reasonHalted
			}
		}
		metrics.RiskRejects.WithLabelValues("halted").Inc()
		return model.Decision{Reason: reason}
	}

	if g.nearClose(g.now().In(g.loc)) {
		metrics.RiskRejects.WithLabelValues("near_close").Inc()
		return model.Decision{Reason: reasonNearClose}
	}

	size := g.positionSizeLocked(sig)
	if size <= 0 {
		metrics.RiskRejects.WithLabelValues("zero_size").Inc()
		return model.Decision{Reason: reasonZeroSize}
	}

	return model.Decision{Authorized: true, SizedQuantity: size}
}

// PositionSize computes the contract count for a signal; zero means the
// trade is rejected. Never negative, never fractional.
func (g *Governor) PositionSize(sig model.Signal) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positionSizeLocked(sig)
}

func (g *Governor) positionSizeLocked(sig model.Signal) int {
	balance := g.balanceLocked()

	riskDollars := balance.Mul(decimal.NewFromFloat(g.riskPerTradePct)).Div(decimal.NewFromInt(100))

	stopDistance := decimal.NewFromFloat(sig.EntryPrice).Sub(decimal.NewFromFloat(sig.StopLoss)).Abs()
	if stopDistance.IsZero() {
		return 0
	}

	riskPerContract := stopDistance.Mul(decimal.NewFromFloat(TickValue(sig.Symbol)))
	if riskPerContract.IsZero() {
		return 0
	}

	contracts := int(riskDollars.Div(riskPerContract).IntPart())

	balanceF, _ := balance.Float64()
	if planMax := g.profile.MaxContractsFor(balanceF); contracts > planMax {
		contracts = planMax
	}
	if contracts > g.maxSize {
		contracts = g.maxSize
	}
	if contracts < g.minSize {
		contracts = g.minSize
	}

	// Never risk more than the configured share of what's left of today's
	// loss budget.
	remaining := decimal.NewFromFloat(g.profile.DailyLossLimit).
		Sub(g.dailyPnL.Abs()).
		Mul(decimal.NewFromFloat(g.rules.DailyBudgetFraction))
	if riskPerContract.Mul(decimal.NewFromInt(int64(contracts))).GreaterThan(remaining) {
		contracts = int(remaining.Div(riskPerContract).IntPart())
		if contracts < 0 {
			contracts = 0
		}
	}

	return contracts
}

// UpdatePnL folds one realized trade result into the rolling state.
func (g *Governor) UpdatePnL(realized float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delta := decimal.NewFromFloat(realized)
	g.totalPnL = g.totalPnL.Add(delta)
	g.dailyPnL = g.dailyPnL.Add(delta)

	balance := decimal.NewFromFloat(g.profile.AccountSize).Add(g.totalPnL)
	if balance.GreaterThan(g.highWaterMark) {
		g.highWaterMark = balance
	}
	if g.dailyPnL.GreaterThan(g.bestDayProfit) {
		g.bestDayProfit = g.dailyPnL
	}

	if delta.IsNegative() {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	// The consistency rule caps one day's share of cumulative profit. It
	// fails a payout review rather than a live trade, so it warns instead
	// of halting.
	if g.totalPnL.IsPositive() {
		ratio := g.bestDayProfit.Div(g.totalPnL)
		if ratio.GreaterThan(decimal.NewFromFloat(g.profile.ConsistencyThreshold)) {
			ratioF, _ := ratio.Float64()
			g.log.Warn("consistency ratio above threshold",
				"ratio", ratioF, "threshold", g.profile.ConsistencyThreshold)
		}
	}

	dailyF, _ := g.dailyPnL.Float64()
	totalF, _ := g.totalPnL.Float64()
	g.log.Info("realized P&L updated",
		"delta", realized, "daily_pnl", dailyF, "total_pnl", totalF,
		"consecutive_losses", g.consecutiveLosses)
}

// ResetDailyTracking performs the daily rollover when the calendar date in
// the configured timezone has changed. It clears the daily counters and
// any latched halt; totals and the high-water mark persist.
func (g *Governor) ResetDailyTracking() {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.now().In(g.loc).Format("2006-01-02")
	if today == g.currentDay {
		return
	}

	g.currentDay = today
	g.dailyPnL = decimal.Zero
	g.consecutiveLosses = 0
	g.halted = false
	g.haltReason = ""
	g.log.Info("daily risk tracking reset", "day", today)
}

func (g *Governor) haltLocked(reason string) {
	if g.halted {
		return
	}
	g.halted = true
	g.haltReason = reason
	g.log.Error("trading halted", "reason", reason)
}

// Halted reports the latched halt state and its first reason.
func (g *Governor) Halted() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted, g.haltReason
}

func (g *Governor) balanceLocked() decimal.Decimal {
	balance := decimal.NewFromFloat(g.profile.AccountSize).Add(g.totalPnL)
	if g.unrealized != nil {
		balance = balance.Add(decimal.NewFromFloat(g.unrealized()))
	}
	return balance
}

func (g *Governor) insideSession(t time.Time) bool {
	tod := t.Hour()*60 + t.Minute()
	if g.sessionOpen > g.sessionClose {
		// Overnight session, e.g. 17:00 through 15:10 the next day.
		return tod >= g.sessionOpen || tod <= g.sessionClose
	}
	return tod >= g.sessionOpen && tod <= g.sessionClose
}

// PastHardClose reports whether the clock sits in the forced liquidation
// window between the hard close and the session close. Callers flatten
// open positions while this holds.
func (g *Governor) PastHardClose() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now().In(g.loc)
	tod := t.Hour()*60 + t.Minute()
	return tod >= g.hardClose && tod <= g.sessionClose
}

func (g *Governor) nearClose(t time.Time) bool {
	tod := t.Hour()*60 + t.Minute()
	if tod >= g.hardClose && tod <= g.sessionClose {
		return true
	}
	return tod >= g.noNewTrades && tod < g.sessionOpen
}

// Snapshot captures the state that must survive a restart. The trailing
// drawdown references all-time values, so losing them on redeploy would
// loosen the rule.
type Snapshot struct {
	TotalPnL          float64 `json:"total_pnl"`
	DailyPnL          float64 `json:"daily_pnl"`
	BestDayProfit     float64 `json:"best_day_profit"`
	HighWaterMark     float64 `json:"high_water_mark"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Halted            bool    `json:"halted"`
	HaltReason        string  `json:"halt_reason"`
	Day               string  `json:"day"`
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	totalF, _ := g.totalPnL.Float64()
	dailyF, _ := g.dailyPnL.Float64()
	bestF, _ := g.bestDayProfit.Float64()
	hwmF, _ := g.highWaterMark.Float64()
	return Snapshot{
		TotalPnL:          totalF,
		DailyPnL:          dailyF,
		BestDayProfit:     bestF,
		HighWaterMark:     hwmF,
		ConsecutiveLosses: g.consecutiveLosses,
		Halted:            g.halted,
		HaltReason:        g.haltReason,
		Day:               g.currentDay,
	}
}

// Restore rehydrates a persisted snapshot. Daily fields only apply when
// the snapshot is from the current trading day; the high-water mark never
// moves down.
func (g *Governor) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalPnL = decimal.NewFromFloat(s.TotalPnL)
	hwm := decimal.NewFromFloat(s.HighWaterMark)
	if hwm.GreaterThan(g.highWaterMark) {
		g.highWaterMark = hwm
	}
	g.bestDayProfit = decimal.NewFromFloat(s.BestDayProfit)

	today := g.now().In(g.loc).Format("2006-01-02")
	if s.Day == today {
		g.dailyPnL = decimal.NewFromFloat(s.DailyPnL)
		g.consecutiveLosses = s.ConsecutiveLosses
		g.halted = s.Halted
		g.haltReason = s.HaltReason
		g.currentDay = s.Day
	}
}
