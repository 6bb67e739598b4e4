package gateway

import (
	"context"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/model"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/metrics"
	"github.com/google/uuid"
)

// OrderRequest is the engine-side order descriptor. Bracket ticks ride
// along so the gateway attaches stop-loss / take-profit children serverside.
type OrderRequest struct {
	AccountID       int
	Symbol          string
	Side            model.OrderSide
	Type            model.OrderType
	Size            int
	LimitPrice      *float64
	StopPrice       *float64
	TrailPrice      *float64
	StopLossTicks   *int
	TakeProfitTicks *int
}

// PlaceOrder submits an order. Each submission carries a uuid customTag so
// fills on the realtime feed can be traced back to the originating request.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (int, error) {
	accountID, err := c.resolveAccount(ctx, req.AccountID)
	if err != nil {
		return 0, err
	}
	instrument, err := c.Instrument(ctx, req.Symbol, true)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"accountId":  accountID,
		"contractId": instrument.ID,
		"type":       int(req.Type),
		"side":       int(req.Side),
		"size":       req.Size,
		"customTag":  uuid.NewString(),
	}
	if req.LimitPrice != nil {
		payload["limitPrice"] = *req.LimitPrice
	}
	if req.StopPrice != nil {
		payload["stopPrice"] = *req.StopPrice
	}
	if req.TrailPrice != nil {
		payload["trailPrice"] = *req.TrailPrice
	}
	if req.StopLossTicks != nil {
		payload["stopLossBracket"] = map[string]any{"ticks": *req.StopLossTicks, "type": 2}
	}
	if req.TakeProfitTicks != nil {
		payload["takeProfitBracket"] = map[string]any{"ticks": *req.TakeProfitTicks, "type": 1}
	}

	res := c.request(ctx, "POST", "/Order/place", laneGeneral, payload)
	var body struct {
		model.Envelope
		OrderID int `json:"orderId"`
	}
	if err := res.Decode(&body); err != nil {
		metrics.OrdersTotal.WithLabelValues("error", req.Side.String()).Inc()
		return 0, err
	}
	if !body.OK() {
		metrics.OrdersTotal.WithLabelValues("rejected", req.Side.String()).Inc()
		return 0, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}

	metrics.OrdersTotal.WithLabelValues("accepted", req.Side.String()).Inc()
	c.log.Info("order placed",
		"order_id", body.OrderID, "symbol", req.Symbol,
		"side", req.Side.String(), "size", req.Size)
	return body.OrderID, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID int) error {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return err
	}
	res := c.request(ctx, "POST", "/Order/cancel", laneGeneral, map[string]any{
		"accountId": accountID,
		"orderId":   orderID,
	})
	return envelopeErr(res)
}

// ModifyOrder adjusts price/size on a working order. Nil fields are left
// untouched by the gateway.
func (c *Client) ModifyOrder(ctx context.Context, accountID, orderID int, size *int, limitPrice, stopPrice, trailPrice *float64) error {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"accountId": accountID,
		"orderId":   orderID,
	}
	if size != nil {
		payload["size"] = *size
	}
	if limitPrice != nil {
		payload["limitPrice"] = *limitPrice
	}
	if stopPrice != nil {
		payload["stopPrice"] = *stopPrice
	}
	if trailPrice != nil {
		payload["trailPrice"] = *trailPrice
	}
	res := c.request(ctx, "POST", "/Order/modify", laneGeneral, payload)
	return envelopeErr(res)
}

// SearchOrders returns orders created inside [start, end].
func (c *Client) SearchOrders(ctx context.Context, accountID int, start, end time.Time) ([]model.Order, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res := c.request(ctx, "POST", "/Order/search", laneGeneral, map[string]any{
		"accountId":      accountID,
		"startTimestamp": start.UTC().Format(time.RFC3339),
		"endTimestamp":   end.UTC().Format(time.RFC3339),
	})
	var body struct {
		model.Envelope
		Orders []model.Order `json:"orders"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Orders, nil
}

// SearchOpenOrders returns the working orders for an account.
func (c *Client) SearchOpenOrders(ctx context.Context, accountID int) ([]model.Order, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res := c.request(ctx, "POST", "/Order/searchOpen", laneGeneral, map[string]any{
		"accountId": accountID,
	})
	var body struct {
		model.Envelope
		Orders []model.Order `json:"orders"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Orders, nil
}

func (c *Client) resolveAccount(ctx context.Context, accountID int) (int, error) {
	if accountID != 0 {
		return accountID, nil
	}
	return c.DefaultAccountID(ctx)
}

func envelopeErr(res Result) error {
	var body model.Envelope
	if err := res.Decode(&body); err != nil {
		return err
	}
	if !body.OK() {
		return Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return nil
}
