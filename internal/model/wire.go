package model

// OrderSide follows the ProjectX wire contract: 0 buys, 1 sells.
type OrderSide int

const (
	SideBuy  OrderSide = 0
	SideSell OrderSide = 1
)

func (s OrderSide) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// SideFromString maps strategy-layer side strings onto wire values.
// Unknown strings default to buy, matching the gateway's own default.
func SideFromString(s string) OrderSide {
	if s == "SELL" || s == "sell" {
		return SideSell
	}
	return SideBuy
}

// OrderType follows the ProjectX wire contract.
type OrderType int

const (
	TypeLimit        OrderType = 1
	TypeMarket       OrderType = 2
	TypeStopLimit    OrderType = 3
	TypeStop         OrderType = 4
	TypeTrailingStop OrderType = 5
)

var orderTypeNames = map[string]OrderType{
	"LIMIT":         TypeLimit,
	"MARKET":        TypeMarket,
	"STOP_LIMIT":    TypeStopLimit,
	"STOP":          TypeStop,
	"TRAILING_STOP": TypeTrailingStop,
}

func OrderTypeFromString(s string) OrderType {
	if t, ok := orderTypeNames[s]; ok {
		return t
	}
	return TypeMarket
}

// Envelope is the common ProjectX response wrapper. A call is fully
// successful only when Success is true and ErrorCode is zero.
type Envelope struct {
	Success      bool    `json:"success"`
	ErrorCode    int     `json:"errorCode"`
	ErrorMessage *string `json:"errorMessage"`
}

func (e Envelope) OK() bool {
	return e.Success && e.ErrorCode == 0
}

func (e Envelope) Reason() string {
	if e.ErrorMessage != nil {
		return *e.ErrorMessage
	}
	return ""
}
