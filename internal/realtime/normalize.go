package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

// flexFloat tolerates gateway payloads that send numbers as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// extractSymbol pulls the plain symbol out of a payload. The dotted
// contract id format is "CON.F.US.MES.U25"; segment four is the symbol.
func extractSymbol(symbol, symbolID, contractID string) string {
	if symbol != "" {
		return strings.ToUpper(symbol)
	}
	if symbolID != "" {
		return strings.ToUpper(symbolID)
	}
	if parts := strings.Split(contractID, "."); len(parts) >= 4 {
		return strings.ToUpper(parts[3])
	}
	return ""
}

// normalizer coerces raw hub payloads into the closed set of tagged event
// variants. It keeps its own latest-quote map so position updates can
// recompute unrealized P&L even when the gateway omits a mark price.
type normalizer struct {
	mu     sync.RWMutex
	quotes map[string]float64
}

func newNormalizer() *normalizer {
	return &normalizer{quotes: make(map[string]float64)}
}

func (n *normalizer) cacheQuote(symbol string, price float64) {
	if symbol == "" || price == 0 {
		return
	}
	n.mu.Lock()
	n.quotes[symbol] = price
	n.mu.Unlock()
}

func (n *normalizer) latestQuote(symbol string) (float64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.quotes[symbol]
	return p, ok
}

func (n *normalizer) quote(raw json.RawMessage) (*model.QuoteUpdate, error) {
	var p struct {
		Symbol     string    `json:"symbol"`
		SymbolID   string    `json:"symbolId"`
		ContractID string    `json:"contractId"`
		Price      flexFloat `json:"price"`
		LastPrice  flexFloat `json:"lastPrice"`
		Close      flexFloat `json:"close"`
		BidPrice   flexFloat `json:"bidPrice"`
		AskPrice   flexFloat `json:"askPrice"`
		Bid        flexFloat `json:"bid"`
		Ask        flexFloat `json:"ask"`
		Volume     flexFloat `json:"volume"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	symbol := extractSymbol(p.Symbol, p.SymbolID, p.ContractID)
	if symbol == "" {
		return nil, fmt.Errorf("quote payload has no resolvable symbol")
	}

	price := firstNonZero(float64(p.Price), float64(p.LastPrice), float64(p.Close), float64(p.BidPrice), float64(p.AskPrice))
	n.cacheQuote(symbol, price)

	return &model.QuoteUpdate{
		Quote: model.Quote{
			Symbol:    symbol,
			Price:     price,
			Bid:       firstNonZero(float64(p.BidPrice), float64(p.Bid)),
			Ask:       firstNonZero(float64(p.AskPrice), float64(p.Ask)),
			LastPrice: firstNonZero(float64(p.LastPrice), price),
			Volume:    float64(p.Volume),
			Timestamp: time.Now().UTC(),
		},
		Received: time.Now().UTC(),
	}, nil
}

func (n *normalizer) position(raw json.RawMessage) (*model.PositionUpdate, error) {
	var pos model.Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, err
	}
	if pos.ContractID == "" && pos.Size == 0 {
		return nil, fmt.Errorf("position payload empty")
	}

	symbol := extractSymbol("", "", pos.ContractID)

	update := &model.PositionUpdate{
		Position: pos,
		Symbol:   symbol,
		Received: time.Now().UTC(),
	}

	// Recompute unrealized P&L from the latest cached quote; the hub
	// rarely ships a mark price of its own.
	if mark, ok := n.latestQuote(symbol); ok && pos.AveragePrice != 0 {
		direction := 1.0
		if pos.Type == 2 { // short
			direction = -1.0
		}
		size := float64(pos.Size)
		if size < 0 {
			size = -size
		}
		unrealized := (mark - pos.AveragePrice) * size * direction
		update.UnrealizedPnL = &unrealized
	}
	return update, nil
}

func (n *normalizer) trade(raw json.RawMessage) (*model.TradeUpdate, error) {
	var tr model.Trade
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, err
	}
	if tr.ContractID == "" {
		return nil, fmt.Errorf("trade payload has no contract id")
	}
	return &model.TradeUpdate{
		Trade:    tr,
		Symbol:   extractSymbol("", "", tr.ContractID),
		Received: time.Now().UTC(),
	}, nil
}

func (n *normalizer) order(raw json.RawMessage) (*model.OrderUpdate, error) {
	var ord model.Order
	if err := json.Unmarshal(raw, &ord); err != nil {
		return nil, err
	}
	if ord.ID == 0 {
		return nil, fmt.Errorf("order payload has no id")
	}
	return &model.OrderUpdate{
		Order:    ord,
		Symbol:   extractSymbol("", "", ord.ContractID),
		Received: time.Now().UTC(),
	}, nil
}

func (n *normalizer) account(raw json.RawMessage) (*model.AccountUpdate, error) {
	var p struct {
		ID       int       `json:"id"`
		Balance  flexFloat `json:"balance"`
		CanTrade bool      `json:"canTrade"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, fmt.Errorf("account payload has no id")
	}
	return &model.AccountUpdate{
		AccountID: p.ID,
		Balance:   float64(p.Balance),
		CanTrade:  p.CanTrade,
		Received:  time.Now().UTC(),
	}, nil
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// eventPayload picks the record to normalize from an invocation's argument
// list. The hubs invoke some targets as (data) and others as (contractId,
// data), so the last JSON-object argument wins.
func eventPayload(args []json.RawMessage) (json.RawMessage, bool) {
	for i := len(args) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(string(args[i]))
		if strings.HasPrefix(trimmed, "{") {
			return args[i], true
		}
	}
	return nil, false
}
