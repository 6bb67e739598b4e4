package model

// Signal is what the strategy layer hands the execution core. The core
// never inspects how it was produced.
type Signal struct {
	Symbol       string    `json:"symbol"`
	Side         OrderSide `json:"side"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	OrderType    OrderType `json:"order_type"`
	QuantityHint int       `json:"quantity_hint"`
}

// Decision is the governor's answer for a signal. A denial carries the
// first rule that failed; it is not an error.
type Decision struct {
	Authorized    bool   `json:"authorized"`
	SizedQuantity int    `json:"sized_quantity"`
	Reason        string `json:"reason,omitempty"`
}
