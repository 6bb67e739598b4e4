package model

import "time"

type Account struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	CanTrade  bool    `json:"canTrade"`
	IsVisible bool    `json:"isVisible"`
	Simulated bool    `json:"simulated"`
}

// Contract is a tradeable instrument. ID is the dotted gateway contract id,
// e.g. "CON.F.US.MES.U25"; the plain symbol is segment four.
type Contract struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	TickSize       float64 `json:"tickSize"`
	TickValue      float64 `json:"tickValue"`
	ActiveContract bool    `json:"activeContract"`
}

type Order struct {
	ID           int       `json:"id"`
	AccountID    int       `json:"accountId"`
	ContractID   string    `json:"contractId"`
	Status       int       `json:"status"`
	Type         OrderType `json:"type"`
	Side         OrderSide `json:"side"`
	Size         int       `json:"size"`
	LimitPrice   *float64  `json:"limitPrice"`
	StopPrice    *float64  `json:"stopPrice"`
	TrailPrice   *float64  `json:"trailPrice"`
	CustomTag    string    `json:"customTag"`
	CreationTime time.Time `json:"creationTimestamp"`
	UpdateTime   time.Time `json:"updateTimestamp"`
}

type Position struct {
	ID           int       `json:"id"`
	AccountID    int       `json:"accountId"`
	ContractID   string    `json:"contractId"`
	Type         int       `json:"type"` // 1 long, 2 short
	Size         int       `json:"size"`
	AveragePrice float64   `json:"averagePrice"`
	CreationTime time.Time `json:"creationTimestamp"`
}

// Trade is a half-turn execution report. ProfitAndLoss is null for the
// opening half of a round trip; realized P&L arrives on the closing half.
type Trade struct {
	ID            int       `json:"id"`
	AccountID     int       `json:"accountId"`
	ContractID    string    `json:"contractId"`
	Price         float64   `json:"price"`
	ProfitAndLoss *float64  `json:"profitAndLoss"`
	Fees          float64   `json:"fees"`
	Side          OrderSide `json:"side"`
	Size          int       `json:"size"`
	Voided        bool      `json:"voided"`
	OrderID       int       `json:"orderId"`
	CreationTime  time.Time `json:"creationTimestamp"`
}

type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	LastPrice float64   `json:"lastPrice"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}
