// Package bot wires one funded account's collaborators together: its own
// credential authority, gateway client, realtime feed and risk governor.
// Nothing here is shared across accounts.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/gateway"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/realtime"
	"github.com/ZeusMX2125/topstep-engine/internal/risk"
	"github.com/ZeusMX2125/topstep-engine/internal/store"
)

// Bot runs one account. The strategy layer submits signals through
// Execute; everything the gateway streams back flows into the governor.
type Bot struct {
	name      string
	acct      config.AccountConfig
	auth      *gateway.CredentialAuthority
	client    *gateway.Client
	feed      *realtime.Feed
	governor  *risk.Governor
	snapshots store.SnapshotRepo
	log       *slog.Logger

	accountID int

	rolloverStop chan struct{}
	rolloverDone chan struct{}
}

func New(cfg *config.Config, acct config.AccountConfig, snapshots store.SnapshotRepo) (*Bot, error) {
	profile, ok := risk.ProfileFor(acct.Profile)
	if !ok {
		return nil, fmt.Errorf("account %q references unknown profile %q", acct.Name, acct.Profile)
	}

	governor, err := risk.NewGovernor(profile, cfg.Risk, acct)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", acct.Name, err)
	}

	auth := gateway.NewCredentialAuthority(cfg.Gateway)
	client := gateway.NewClient(cfg.Gateway, auth)
	feed := realtime.NewFeed(cfg.Realtime, auth)

	b := &Bot{
		name:         acct.Name,
		acct:         acct,
		auth:         auth,
		client:       client,
		feed:         feed,
		governor:     governor,
		snapshots:    snapshots,
		log:          logger.Component("bot").With(slog.String("account", acct.Name)),
		rolloverStop: make(chan struct{}),
		rolloverDone: make(chan struct{}),
	}

	// Registration happens before Start, so delivery never races it.
	feed.On(model.EventQuoteUpdate, b.onQuote)
	feed.On(model.EventTradeUpdate, b.onTrade)
	feed.On(model.EventAccountUpdate, b.onAccount)
	feed.On(model.EventPositionUpdate, b.onPosition)

	return b, nil
}

// Start restores persisted risk state, resolves the account id and the
// watched contracts, then launches the realtime stream and the rollover
// ticker.
func (b *Bot) Start(ctx context.Context) error {
	if snap, ok, err := b.snapshots.Load(ctx, b.name); err != nil {
		b.log.Warn("could not load risk snapshot, starting fresh", "error", err)
	} else if ok {
		b.governor.Restore(snap)
		b.log.Info("risk snapshot restored",
			"total_pnl", snap.TotalPnL, "high_water_mark", snap.HighWaterMark)
	}

	accountID := b.acct.AccountID
	if accountID == 0 {
		resolved, err := b.client.DefaultAccountID(ctx)
		if err != nil {
			return fmt.Errorf("resolve account id for %q: %w", b.name, err)
		}
		accountID = resolved
	}
	b.accountID = accountID

	for _, symbol := range b.acct.Symbols {
		instrument, err := b.client.Instrument(ctx, symbol, true)
		if err != nil {
			b.log.Warn("could not resolve watched symbol", "symbol", symbol, "error", err)
			continue
		}
		b.feed.WatchContracts(instrument.ID)
	}

	b.feed.Start(accountID)
	go b.rolloverLoop()

	b.log.Info("bot started", "account_id", accountID)
	return nil
}

// Stop shuts the account down cooperatively: the feed loop is joined, the
// rollover ticker exits, open positions are flattened and the final risk
// state is persisted. An unattended process must not leave exposure
// behind when it goes away.
func (b *Bot) Stop() {
	b.feed.Stop()
	close(b.rolloverStop)
	<-b.rolloverDone

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.Flatten(ctx); err != nil {
		b.log.Error("could not flatten positions on shutdown", "error", err)
	}
	if err := b.snapshots.Save(ctx, b.name, b.governor.Snapshot()); err != nil {
		b.log.Warn("could not persist final risk snapshot", "error", err)
	}
	b.log.Info("bot stopped")
}

// Execute gates one strategy signal through the governor and, when
// authorized, submits the sized order. A denial is a normal Decision,
// not an error; errors mean the gateway call itself failed.
func (b *Bot) Execute(ctx context.Context, sig model.Signal) (model.Decision, error) {
	b.governor.ResetDailyTracking()

	decision := b.governor.CheckTradeRisk(sig)
	if !decision.Authorized {
		b.log.Info("signal denied", "symbol", sig.Symbol, "reason", decision.Reason)
		return decision, nil
	}

	req := gateway.OrderRequest{
		AccountID: b.accountID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Type:      sig.OrderType,
		Size:      decision.SizedQuantity,
	}
	if sig.EntryPrice > 0 {
		entry := sig.EntryPrice
		switch sig.OrderType {
		case model.TypeLimit:
			req.LimitPrice = &entry
		case model.TypeStop:
			req.StopPrice = &entry
		case model.TypeStopLimit:
			req.LimitPrice = &entry
			req.StopPrice = &entry
		case model.TypeTrailingStop:
			req.TrailPrice = &entry
		}
	}
	if ticks, ok := b.bracketTicks(ctx, sig.Symbol, sig.EntryPrice, sig.StopLoss); ok {
		req.StopLossTicks = &ticks
	}
	if ticks, ok := b.bracketTicks(ctx, sig.Symbol, sig.EntryPrice, sig.TakeProfit); ok {
		req.TakeProfitTicks = &ticks
	}

	orderID, err := b.client.PlaceOrder(ctx, req)
	if err != nil {
		return decision, err
	}
	b.log.Info("signal executed",
		"symbol", sig.Symbol, "side", sig.Side.String(),
		"size", decision.SizedQuantity, "order_id", orderID)
	return decision, nil
}

// bracketTicks converts a price distance into the gateway's tick count
// using the instrument's tick size.
func (b *Bot) bracketTicks(ctx context.Context, symbol string, entry, level float64) (int, bool) {
	if entry <= 0 || level <= 0 {
		return 0, false
	}
	instrument, err := b.client.Instrument(ctx, symbol, true)
	if err != nil || instrument.TickSize <= 0 {
		return 0, false
	}
	ticks := int(math.Round(math.Abs(entry-level) / instrument.TickSize))
	if ticks <= 0 {
		return 0, false
	}
	return ticks, true
}

// Flatten closes every open position on the account at market. Used by
// the shutdown path and the hard-close guard.
func (b *Bot) Flatten(ctx context.Context) error {
	positions, err := b.client.SearchOpenPositions(ctx, b.accountID)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if err := b.client.ClosePosition(ctx, b.accountID, pos.ContractID); err != nil {
			return fmt.Errorf("close %s: %w", pos.ContractID, err)
		}
		b.log.Warn("position flattened", "contract", pos.ContractID, "size", pos.Size)
	}
	return nil
}

// Status exposes read-only state for dashboards. The control plane reads
// this; it has no path that submits orders around the governor.
type Status struct {
	Account    string        `json:"account"`
	AccountID  int           `json:"account_id"`
	Halted     bool          `json:"halted"`
	HaltReason string        `json:"halt_reason,omitempty"`
	Risk       risk.Snapshot `json:"risk"`
}

func (b *Bot) Status() Status {
	halted, reason := b.governor.Halted()
	return Status{
		Account:    b.name,
		AccountID:  b.accountID,
		Halted:     halted,
		HaltReason: reason,
		Risk:       b.governor.Snapshot(),
	}
}

// Governor exposes the account's rule engine to collaborating packages.
func (b *Bot) Governor() *risk.Governor { return b.governor }

// Client exposes the account's gateway client.
func (b *Bot) Client() *gateway.Client { return b.client }

func (b *Bot) onQuote(ev model.Event) {
	if ev.Quote == nil {
		return
	}
	b.client.UpdateQuote(ev.Quote.Quote.Symbol, ev.Quote.Quote.Price)
}

// onTrade reconciles full-turn executions into realized P&L. Opening
// halves arrive with ProfitAndLoss null and are skipped.
func (b *Bot) onTrade(ev model.Event) {
	if ev.Trade == nil {
		return
	}
	trade := ev.Trade.Trade
	if trade.AccountID != 0 && trade.AccountID != b.accountID {
		return
	}
	if trade.Voided || trade.ProfitAndLoss == nil {
		return
	}

	realized := *trade.ProfitAndLoss - trade.Fees
	b.governor.UpdatePnL(realized)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.snapshots.Save(ctx, b.name, b.governor.Snapshot()); err != nil {
		b.log.Warn("could not persist risk snapshot", "error", err)
	}
}

func (b *Bot) onAccount(ev model.Event) {
	if ev.Account == nil || ev.Account.AccountID != b.accountID {
		return
	}
	if !ev.Account.CanTrade {
		b.log.Warn("gateway reports account cannot trade", "balance", ev.Account.Balance)
	}
}

func (b *Bot) onPosition(ev model.Event) {
	if ev.Position == nil {
		return
	}
	if ev.Position.UnrealizedPnL != nil {
		b.log.Debug("position update",
			"symbol", ev.Position.Symbol,
			"size", ev.Position.Position.Size,
			"unrealized", *ev.Position.UnrealizedPnL)
	}
}

// rolloverLoop checks for the daily boundary once a minute so a halted
// account resumes on the next trading day even without inbound signals.
// It also runs the hard-close guard: once the forced liquidation window
// opens, any remaining exposure is closed at market.
func (b *Bot) rolloverLoop() {
	defer close(b.rolloverDone)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	hardClosed := false
	for {
		select {
		case <-b.rolloverStop:
			return
		case <-ticker.C:
			b.governor.ResetDailyTracking()
			hardClosed = b.enforceHardClose(hardClosed)
		}
	}
}

// enforceHardClose flattens the account once per liquidation window. The
// returned flag carries the already-flattened state across ticks; a failed
// flatten leaves it unset so the next tick retries.
func (b *Bot) enforceHardClose(already bool) bool {
	if !b.governor.PastHardClose() {
		return false
	}
	if already {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Flatten(ctx); err != nil {
		b.log.Error("hard-close flatten failed", "error", err)
		return false
	}
	b.log.Warn("hard-close window reached, account flattened")
	return true
}
