package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context, force bool) (string, error) {
	return string(s), nil
}

type receivedInvocation struct {
	path   string
	target string
	args   []json.RawMessage
}

// fakeHubServer speaks just enough of the SignalR JSON protocol to stand
// in for both rtc hubs: it accepts the handshake, records invocations and
// lets tests push events down to the client.
type fakeHubServer struct {
	t           *testing.T
	srv         *httptest.Server
	upgrader    websocket.Upgrader
	dials       int32
	rejects     int32
	invocations chan receivedInvocation

	mu        sync.Mutex
	conns     map[string][]*websocket.Conn
	attempts  []time.Time
	leftovers []receivedInvocation
}

// failNextConnects makes the next n connection attempts fail before the
// websocket upgrade, as if the hub endpoint were briefly down.
func (s *fakeHubServer) failNextConnects(n int32) {
	atomic.StoreInt32(&s.rejects, n)
}

func (s *fakeHubServer) attemptTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func newFakeHubServer(t *testing.T) *fakeHubServer {
	s := &fakeHubServer{
		t:           t,
		invocations: make(chan receivedInvocation, 64),
		conns:       make(map[string][]*websocket.Conn),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeHubServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.attempts = append(s.attempts, time.Now())
	s.mu.Unlock()
	if atomic.LoadInt32(&s.rejects) > 0 {
		atomic.AddInt32(&s.rejects, -1)
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("access_token") == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	atomic.AddInt32(&s.dials, 1)

	// Handshake record, then the empty acceptance record.
	if _, _, err := conn.ReadMessage(); err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, append([]byte("{}"), recordSeparator)); err != nil {
		conn.Close()
		return
	}

	path := r.URL.Path
	s.mu.Lock()
	s.conns[path] = append(s.conns[path], conn)
	s.mu.Unlock()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range splitRecords(frame) {
			var msg signalRMessage
			if json.Unmarshal(record, &msg) != nil {
				continue
			}
			if msg.Type == msgInvocation {
				s.invocations <- receivedInvocation{path: path, target: msg.Target, args: msg.Arguments}
			}
		}
	}
}

func (s *fakeHubServer) url(path string) string {
	return s.srv.URL + path
}

// push sends one invocation record to the most recent connection on path.
func (s *fakeHubServer) push(path, target string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.conns[path]
	require.NotEmpty(s.t, conns, "no connection on %s to push to", path)

	record, err := json.Marshal(map[string]any{
		"type":      msgInvocation,
		"target":    target,
		"arguments": args,
	})
	require.NoError(s.t, err)
	record = append(record, recordSeparator)
	require.NoError(s.t, conns[len(conns)-1].WriteMessage(websocket.TextMessage, record))
}

func (s *fakeHubServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conns := range s.conns {
		for _, c := range conns {
			c.Close()
		}
	}
	s.conns = make(map[string][]*websocket.Conn)
}

func (s *fakeHubServer) awaitInvocation(target string, timeout time.Duration) receivedInvocation {
	// The two hub connections feed one channel, so invocations from
	// different connections arrive in scheduler order, not send order.
	// Unmatched invocations are kept for later waits instead of dropped.
	s.mu.Lock()
	for i, inv := range s.leftovers {
		if inv.target == target {
			s.leftovers = append(s.leftovers[:i], s.leftovers[i+1:]...)
			s.mu.Unlock()
			return inv
		}
	}
	s.mu.Unlock()

	deadline := time.After(timeout)
	for {
		select {
		case inv := <-s.invocations:
			if inv.target == target {
				return inv
			}
			s.mu.Lock()
			s.leftovers = append(s.leftovers, inv)
			s.mu.Unlock()
		case <-deadline:
			s.t.Fatalf("timed out waiting for invocation %q", target)
			return receivedInvocation{}
		}
	}
}

func feedConfig(s *fakeHubServer) config.RealtimeConfig {
	return config.RealtimeConfig{
		UserHubURL:               s.url("/hubs/user"),
		MarketHubURL:             s.url("/hubs/market"),
		ReconnectDelaySeconds:    1,
		ReconnectMaxDelaySeconds: 4,
		HeartbeatIntervalSeconds: 30,
	}
}

func TestFeedSubscribesAndDeliversQuotes(t *testing.T) {
	server := newFakeHubServer(t)
	feed := NewFeed(feedConfig(server), staticTokens("tok"))
	feed.WatchContracts("CON.F.US.MES.U25")

	quotes := make(chan model.Event, 8)
	feed.On(model.EventQuoteUpdate, func(e model.Event) { quotes <- e })

	feed.Start(42)
	defer feed.Stop()

	server.awaitInvocation("SubscribeAccounts", 3*time.Second)
	orders := server.awaitInvocation("SubscribeOrders", 3*time.Second)
	assert.Equal(t, "/hubs/user", orders.path)
	require.Len(t, orders.args, 1)
	assert.Equal(t, "42", string(orders.args[0]))

	quotesSub := server.awaitInvocation("SubscribeContractQuotes", 3*time.Second)
	assert.Equal(t, "/hubs/market", quotesSub.path)

	server.push("/hubs/market", "GatewayQuote", "CON.F.US.MES.U25",
		map[string]any{"contractId": "CON.F.US.MES.U25", "lastPrice": 5321.25, "bidPrice": 5321.0, "askPrice": 5321.5})

	select {
	case e := <-quotes:
		require.NotNil(t, e.Quote)
		assert.Equal(t, "MES", e.Quote.Quote.Symbol)
		assert.Equal(t, 5321.25, e.Quote.Quote.Price)
	case <-time.After(3 * time.Second):
		t.Fatal("quote event never delivered")
	}

	price, ok := feed.LatestQuote("MES")
	require.True(t, ok)
	assert.Equal(t, 5321.25, price)
}

func TestFeedDropsMalformedEventsAndKeepsStreaming(t *testing.T) {
	server := newFakeHubServer(t)
	feed := NewFeed(feedConfig(server), staticTokens("tok"))

	events := make(chan model.Event, 8)
	feed.On(model.EventOrderUpdate, func(e model.Event) { events <- e })

	feed.Start(42)
	defer feed.Stop()
	server.awaitInvocation("SubscribeTrades", 3*time.Second)

	// No order id: dropped without ending the stream.
	server.push("/hubs/user", "GatewayUserOrder", map[string]any{"contractId": "CON.F.US.MES.U25"})
	server.push("/hubs/user", "GatewayUserOrder", map[string]any{
		"id": 991, "accountId": 42, "contractId": "CON.F.US.MES.U25", "status": 1,
	})

	select {
	case e := <-events:
		require.NotNil(t, e.Order)
		assert.Equal(t, 991, e.Order.Order.ID)
		assert.Equal(t, "MES", e.Order.Symbol)
	case <-time.After(3 * time.Second):
		t.Fatal("well-formed order event never delivered")
	}
	assert.Empty(t, events, "the malformed event must not have been delivered")
}

func TestFeedReconnectsAfterConnectionLoss(t *testing.T) {
	server := newFakeHubServer(t)
	feed := NewFeed(feedConfig(server), staticTokens("tok"))

	feed.Start(42)
	defer feed.Stop()
	server.awaitInvocation("SubscribeAccounts", 3*time.Second)
	firstDials := atomic.LoadInt32(&server.dials)

	server.closeAll()

	// One second of configured backoff, then both hubs redial and
	// resubscribe from scratch.
	server.awaitInvocation("SubscribeAccounts", 5*time.Second)
	assert.Greater(t, atomic.LoadInt32(&server.dials), firstDials)
}

func TestFeedBackoffResetsAfterSubscribedPeriod(t *testing.T) {
	server := newFakeHubServer(t)
	server.failNextConnects(2)
	feed := NewFeed(feedConfig(server), staticTokens("tok"))

	feed.Start(42)
	defer feed.Stop()

	// Two rejected cycles grow the delay past the initial second before
	// the connection finally sticks.
	server.awaitInvocation("SubscribeAccounts", 10*time.Second)

	attempts := server.attemptTimes()
	require.GreaterOrEqual(t, len(attempts), 3)
	assert.Greater(t, attempts[2].Sub(attempts[1]), 1500*time.Millisecond,
		"the wait before the third attempt should have doubled")

	dropped := time.Now()
	server.closeAll()
	server.awaitInvocation("SubscribeAccounts", 5*time.Second)
	assert.Less(t, time.Since(dropped), 3*time.Second,
		"a drop after a subscribed period must redial on the initial delay, not the grown one")
}

func TestFeedStopDuringBackoffReturnsPromptly(t *testing.T) {
	feed := NewFeed(config.RealtimeConfig{
		UserHubURL:               "http://127.0.0.1:1/hubs/user",
		MarketHubURL:             "http://127.0.0.1:1/hubs/market",
		ReconnectDelaySeconds:    60,
		ReconnectMaxDelaySeconds: 60,
	}, staticTokens("tok"))

	feed.Start(42)
	time.Sleep(300 * time.Millisecond) // let the dial fail and enter backoff

	start := time.Now()
	feed.Stop()
	assert.Less(t, time.Since(start), 2*time.Second, "Stop must cut a pending backoff wait short")
}

func TestFeedStopWithoutStart(t *testing.T) {
	feed := NewFeed(config.RealtimeConfig{}, staticTokens("tok"))
	done := make(chan struct{})
	go func() {
		feed.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start must not block")
	}
}

func TestDoubleCapped(t *testing.T) {
	d := time.Second
	max := 8 * time.Second
	var seen []time.Duration
	for i := 0; i < 5; i++ {
		d = doubleCapped(d, max)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, seen)
}
