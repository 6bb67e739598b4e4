package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
)

// TokenSource supplies the bearer token shared by both hub connections.
type TokenSource interface {
	Token(ctx context.Context, force bool) (string, error)
}

// Handler receives one normalized event. Handlers run on the feed's
// delivery goroutine; slow handlers delay delivery, they never lose it.
type Handler func(model.Event)

// Feed owns the dual-hub reconnect loop. The user hub streams account,
// order, position and trade updates; the market hub streams quotes and
// trades for the subscribed contracts. Either connection closing tears
// both down and re-enters backoff.
type Feed struct {
	cfg       config.RealtimeConfig
	tokens    TokenSource
	accountID int
	log       *slog.Logger
	norm      *normalizer

	mu        sync.RWMutex
	handlers  map[model.EventType][]Handler
	contracts []string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewFeed(cfg config.RealtimeConfig, tokens TokenSource) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:      cfg,
		tokens:   tokens,
		log:      logger.Component("realtime"),
		norm:     newNormalizer(),
		handlers: make(map[model.EventType][]Handler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// On registers a handler for one event type. Registration happens at
// startup, before Start; delivery iterates over a copy so registration
// and delivery never race.
func (f *Feed) On(eventType model.EventType, h Handler) {
	f.mu.Lock()
	f.handlers[eventType] = append(f.handlers[eventType], h)
	f.mu.Unlock()
}

// WatchContracts adds market-hub subscriptions for the given dotted
// contract ids. Takes effect on the next (re)connect.
func (f *Feed) WatchContracts(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		seen := false
		for _, existing := range f.contracts {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			f.contracts = append(f.contracts, id)
		}
	}
}

// LatestQuote exposes the normalizer's quote cache.
func (f *Feed) LatestQuote(symbol string) (float64, bool) {
	return f.norm.latestQuote(symbol)
}

// Start launches the background connection loop for the given account id.
func (f *Feed) Start(accountID int) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.accountID = accountID
	f.mu.Unlock()
	go f.run()
}

// Stop requests a cooperative shutdown, wakes any pending backoff wait and
// blocks until the loop has fully exited. No reconnect can fire after it
// returns.
func (f *Feed) Stop() {
	f.cancel()
	f.mu.RLock()
	started := f.started
	f.mu.RUnlock()
	if started {
		<-f.done
	}
}

func (f *Feed) run() {
	defer close(f.done)

	initial := time.Duration(f.cfg.ReconnectDelaySeconds) * time.Second
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := time.Duration(f.cfg.ReconnectMaxDelaySeconds) * time.Second
	if maxDelay < initial {
		maxDelay = initial
	}
	delay := initial

	for {
		if f.ctx.Err() != nil {
			return
		}

		userHub, marketHub, err := f.connect()
		if err != nil {
			f.log.Error("realtime connect failed", "error", err, "retry_in", delay.String())
			metrics.FeedReconnects.Inc()
			if !f.sleepBackoff(delay) {
				return
			}
			delay = doubleCapped(delay, maxDelay)
			continue
		}

		// Fully subscribed: reset the backoff schedule.
		delay = initial
		f.log.Info("realtime stream subscribed", "account_id", f.accountID)

		f.pump(userHub, marketHub)

		userHub.close()
		marketHub.close()

		if f.ctx.Err() != nil {
			return
		}
		f.log.Warn("realtime stream lost, reconnecting", "retry_in", delay.String())
		metrics.FeedReconnects.Inc()
		if !f.sleepBackoff(delay) {
			return
		}
		delay = doubleCapped(delay, maxDelay)
	}
}

// connect dials both hubs with one shared token and issues the channel
// subscriptions. Both must establish; a failure on either side tears down
// whatever connected.
func (f *Feed) connect() (*hub, *hub, error) {
	ctx, cancel := context.WithTimeout(f.ctx, 30*time.Second)
	defer cancel()

	token, err := f.tokens.Token(ctx, false)
	if err != nil {
		return nil, nil, err
	}

	heartbeat := time.Duration(f.cfg.HeartbeatIntervalSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	userHub, err := dialHub(ctx, "user", f.cfg.UserHubURL, token, heartbeat, f.log)
	if err != nil {
		return nil, nil, err
	}
	marketHub, err := dialHub(ctx, "market", f.cfg.MarketHubURL, token, heartbeat, f.log)
	if err != nil {
		userHub.close()
		return nil, nil, err
	}

	if err := f.subscribe(userHub, marketHub); err != nil {
		userHub.close()
		marketHub.close()
		return nil, nil, err
	}
	return userHub, marketHub, nil
}

func (f *Feed) subscribe(userHub, marketHub *hub) error {
	if err := userHub.invoke("SubscribeAccounts"); err != nil {
		return err
	}
	if f.accountID != 0 {
		for _, method := range []string{"SubscribeOrders", "SubscribePositions", "SubscribeTrades"} {
			if err := userHub.invoke(method, f.accountID); err != nil {
				return err
			}
		}
	}

	f.mu.RLock()
	contracts := make([]string, len(f.contracts))
	copy(contracts, f.contracts)
	f.mu.RUnlock()
	for _, id := range contracts {
		if err := marketHub.invoke("SubscribeContractQuotes", id); err != nil {
			return err
		}
		if err := marketHub.invoke("SubscribeContractTrades", id); err != nil {
			return err
		}
	}
	return nil
}

// pump runs both read loops plus the heartbeat and returns when any of
// them ends or a shutdown is requested.
func (f *Feed) pump(userHub, marketHub *hub) {
	errCh := make(chan error, 2)
	go func() { errCh <- userHub.readLoop(f.dispatch) }()
	go func() { errCh <- marketHub.readLoop(f.dispatch) }()

	heartbeat := time.Duration(f.cfg.HeartbeatIntervalSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case err := <-errCh:
			if err != nil && f.ctx.Err() == nil {
				f.log.Warn("hub read loop ended", "error", err)
			}
			return
		case <-ticker.C:
			if userHub.ping() != nil || marketHub.ping() != nil {
				return
			}
		}
	}
}

// hubTargets maps SignalR invocation targets onto event variants.
var hubTargets = map[string]model.EventType{
	"GatewayUserAccount":  model.EventAccountUpdate,
	"GatewayUserOrder":    model.EventOrderUpdate,
	"GatewayUserPosition": model.EventPositionUpdate,
	"GatewayUserTrade":    model.EventTradeUpdate,
	"GatewayQuote":        model.EventQuoteUpdate,
	"GatewayTrade":        model.EventTradeUpdate,
}

// dispatch normalizes one inbound invocation and fans it out. A payload
// that fails normalization is logged and dropped; it never ends the read
// loop.
func (f *Feed) dispatch(hubName, target string, args []json.RawMessage) {
	eventType, ok := hubTargets[target]
	if !ok {
		f.log.Debug("unhandled hub target", "hub", hubName, "target", target)
		return
	}

	payload, ok := eventPayload(args)
	if !ok {
		metrics.FeedDropped.WithLabelValues(string(eventType)).Inc()
		f.log.Warn("hub event without object payload dropped", "hub", hubName, "target", target)
		return
	}

	event, err := f.normalize(eventType, payload)
	if err != nil {
		metrics.FeedDropped.WithLabelValues(string(eventType)).Inc()
		f.log.Warn("malformed hub event dropped", "hub", hubName, "target", target, "error", err)
		return
	}

	metrics.FeedEvents.WithLabelValues(string(eventType)).Inc()
	f.deliver(*event)
}

func (f *Feed) normalize(eventType model.EventType, payload json.RawMessage) (*model.Event, error) {
	switch eventType {
	case model.EventQuoteUpdate:
		q, err := f.norm.quote(payload)
		if err != nil {
			return nil, err
		}
		return &model.Event{Type: eventType, Quote: q}, nil
	case model.EventPositionUpdate:
		p, err := f.norm.position(payload)
		if err != nil {
			return nil, err
		}
		return &model.Event{Type: eventType, Position: p}, nil
	case model.EventTradeUpdate:
		t, err := f.norm.trade(payload)
		if err != nil {
			return nil, err
		}
		return &model.Event{Type: eventType, Trade: t}, nil
	case model.EventOrderUpdate:
		o, err := f.norm.order(payload)
		if err != nil {
			return nil, err
		}
		return &model.Event{Type: eventType, Order: o}, nil
	default:
		a, err := f.norm.account(payload)
		if err != nil {
			return nil, err
		}
		return &model.Event{Type: eventType, Account: a}, nil
	}
}

// deliver fans an event out to a copy of the handler list, so a handler
// registered mid-delivery can never corrupt the iteration.
func (f *Feed) deliver(event model.Event) {
	f.mu.RLock()
	registered := f.handlers[event.Type]
	handlers := make([]Handler, len(registered))
	copy(handlers, registered)
	f.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// sleepBackoff waits out the reconnect delay, returning false when the
// feed was stopped during the wait.
func (f *Feed) sleepBackoff(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func doubleCapped(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}
