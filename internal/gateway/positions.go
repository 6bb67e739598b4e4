package gateway

import (
	"context"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

// SearchOpenPositions returns the live positions for an account.
func (c *Client) SearchOpenPositions(ctx context.Context, accountID int) ([]model.Position, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res := c.request(ctx, "POST", "/Position/searchOpen", laneGeneral, map[string]any{
		"accountId": accountID,
	})
	var body struct {
		model.Envelope
		Positions []model.Position `json:"positions"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Positions, nil
}

// ClosePosition flattens the whole position on a contract at market.
func (c *Client) ClosePosition(ctx context.Context, accountID int, contractID string) error {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return err
	}
	res := c.request(ctx, "POST", "/Position/closeContract", laneGeneral, map[string]any{
		"accountId":  accountID,
		"contractId": contractID,
	})
	return envelopeErr(res)
}

// PartialClosePosition reduces a position by size contracts.
func (c *Client) PartialClosePosition(ctx context.Context, accountID int, contractID string, size int) error {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return err
	}
	res := c.request(ctx, "POST", "/Position/partialCloseContract", laneGeneral, map[string]any{
		"accountId":  accountID,
		"contractId": contractID,
		"size":       size,
	})
	return envelopeErr(res)
}

// SearchTrades returns executions inside [start, end]. Full turns carry a
// realized profitAndLoss; opening halves come back with it null.
func (c *Client) SearchTrades(ctx context.Context, accountID int, start, end time.Time) ([]model.Trade, error) {
	accountID, err := c.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res := c.request(ctx, "POST", "/Trade/search", laneGeneral, map[string]any{
		"accountId":      accountID,
		"startTimestamp": start.UTC().Format(time.RFC3339),
		"endTimestamp":   end.UTC().Format(time.RFC3339),
	})
	var body struct {
		model.Envelope
		Trades []model.Trade `json:"trades"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Trades, nil
}
