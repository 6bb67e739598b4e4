package gateway

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

// barUnit maps a timeframe suffix onto the gateway's unit enum.
var barUnit = map[byte]int{
	's': 1,
	'm': 2,
	'h': 3,
	'd': 4,
}

// parseTimeframe turns strings like "1m", "15m", "4h" into the gateway's
// {unit, unitNumber} pair. Anything unrecognized falls back to one minute.
func parseTimeframe(tf string) (unit, unitNumber int) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return 2, 1
	}
	suffix := tf[len(tf)-1]
	unit, ok := barUnit[suffix]
	if !ok {
		return 2, 1
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n < 1 {
		n = 1
	}
	return unit, n
}

// RetrieveBars fetches historical candles through the tight-capacity
// historical lane.
func (c *Client) RetrieveBars(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]model.Bar, error) {
	instrument, err := c.Instrument(ctx, symbol, false)
	if err != nil {
		return nil, err
	}
	unit, unitNumber := parseTimeframe(timeframe)

	res := c.request(ctx, "POST", "/History/retrieveBars", laneHistorical, map[string]any{
		"contractId":        instrument.ID,
		"live":              false,
		"startTime":         start.UTC().Format(time.RFC3339),
		"endTime":           end.UTC().Format(time.RFC3339),
		"unit":              unit,
		"unitNumber":        unitNumber,
		"limit":             limit,
		"includePartialBar": false,
	})
	var body struct {
		model.Envelope
		Bars []model.Bar `json:"bars"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Bars, nil
}
