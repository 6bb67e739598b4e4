package model

import "time"

// EventType tags the closed set of realtime variants the feed emits.
type EventType string

const (
	EventAccountUpdate  EventType = "account_update"
	EventOrderUpdate    EventType = "order_update"
	EventPositionUpdate EventType = "position_update"
	EventTradeUpdate    EventType = "trade_update"
	EventQuoteUpdate    EventType = "quote_update"
)

// AccountUpdate mirrors GatewayUserAccount after normalization.
type AccountUpdate struct {
	AccountID int       `json:"accountId"`
	Balance   float64   `json:"balance"`
	CanTrade  bool      `json:"canTrade"`
	Received  time.Time `json:"received"`
}

type OrderUpdate struct {
	Order    Order     `json:"order"`
	Symbol   string    `json:"symbol"`
	Received time.Time `json:"received"`
}

// PositionUpdate carries the symbol extracted from the dotted contract id
// and an unrealized P&L recomputed against the latest cached quote.
type PositionUpdate struct {
	Position      Position  `json:"position"`
	Symbol        string    `json:"symbol"`
	UnrealizedPnL *float64  `json:"unrealizedPnl"`
	Received      time.Time `json:"received"`
}

type TradeUpdate struct {
	Trade    Trade     `json:"trade"`
	Symbol   string    `json:"symbol"`
	Received time.Time `json:"received"`
}

type QuoteUpdate struct {
	Quote    Quote     `json:"quote"`
	Received time.Time `json:"received"`
}

// Event is the tagged union delivered to subscribers. Exactly one payload
// field is non-nil, matching Type.
type Event struct {
	Type     EventType
	Account  *AccountUpdate
	Order    *OrderUpdate
	Position *PositionUpdate
	Trade    *TradeUpdate
	Quote    *QuoteUpdate
}
