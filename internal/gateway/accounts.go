package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZeusMX2125/topstep-engine/internal/model"
)

// SearchAccounts lists accounts visible to the credential.
func (c *Client) SearchAccounts(ctx context.Context, onlyActive bool) ([]model.Account, error) {
	res := c.request(ctx, "POST", "/Account/search", laneGeneral, map[string]any{
		"onlyActiveAccounts": onlyActive,
	})
	var body struct {
		model.Envelope
		Accounts []model.Account `json:"accounts"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Accounts, nil
}

// DefaultAccountID resolves and caches the first active account id. The
// realtime feed and order operations use it when the config doesn't pin
// an explicit account.
func (c *Client) DefaultAccountID(ctx context.Context) (int, error) {
	c.acctMu.Lock()
	defer c.acctMu.Unlock()
	if c.defaultAccountID != 0 {
		return c.defaultAccountID, nil
	}

	accounts, err := c.SearchAccounts(ctx, true)
	if err != nil {
		return 0, err
	}
	if len(accounts) == 0 {
		return 0, fmt.Errorf("no active accounts visible to this credential")
	}
	c.defaultAccountID = accounts[0].ID
	c.log.Info("resolved default account", "account_id", c.defaultAccountID, "name", accounts[0].Name)
	return c.defaultAccountID, nil
}

// SearchContracts looks up instruments matching searchText. When a live
// search returns zero rows the gateway likely only carries the contract in
// the delayed feed, so one non-live retry runs before giving up.
func (c *Client) SearchContracts(ctx context.Context, searchText string, live bool) ([]model.Contract, error) {
	contracts, err := c.searchContractsOnce(ctx, searchText, live)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 && live {
		c.log.Debug("live contract search empty, retrying non-live", "search", searchText)
		return c.searchContractsOnce(ctx, searchText, false)
	}
	return contracts, nil
}

func (c *Client) searchContractsOnce(ctx context.Context, searchText string, live bool) ([]model.Contract, error) {
	res := c.request(ctx, "POST", "/Contract/search", laneGeneral, map[string]any{
		"live":       live,
		"searchText": searchText,
	})
	var body struct {
		model.Envelope
		Contracts []model.Contract `json:"contracts"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Contracts, nil
}

// AvailableContracts lists every contract currently offered.
func (c *Client) AvailableContracts(ctx context.Context, live bool) ([]model.Contract, error) {
	res := c.request(ctx, "POST", "/Contract/available", laneGeneral, map[string]any{"live": live})
	var body struct {
		model.Envelope
		Contracts []model.Contract `json:"contracts"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Contracts, nil
}

// ContractByID fetches one contract by its dotted gateway id.
func (c *Client) ContractByID(ctx context.Context, contractID string) (*model.Contract, error) {
	res := c.request(ctx, "POST", "/Contract/searchById", laneGeneral, map[string]any{
		"contractId": contractID,
	})
	var body struct {
		model.Envelope
		Contract *model.Contract `json:"contract"`
	}
	if err := res.Decode(&body); err != nil {
		return nil, err
	}
	if !body.OK() || body.Contract == nil {
		return nil, Failure(body.Reason(), res.Status, body.ErrorCode, res.Data).Err()
	}
	return body.Contract, nil
}

// Instrument resolves a plain symbol (MES, MNQ, ...) to its contract,
// caching by upper-cased symbol and liveness so repeated order placement
// doesn't burn rate budget on lookups.
func (c *Client) Instrument(ctx context.Context, symbol string, live bool) (*model.Contract, error) {
	key := instrumentKey(symbol, live)

	c.instMu.RLock()
	cached, ok := c.instruments[key]
	c.instMu.RUnlock()
	if ok {
		return &cached, nil
	}

	contracts, err := c.SearchContracts(ctx, symbol, live)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("no contract found for symbol %q", symbol)
	}

	// Prefer the active front-month contract when several match.
	chosen := contracts[0]
	for _, contract := range contracts {
		if contract.ActiveContract {
			chosen = contract
			break
		}
	}

	c.instMu.Lock()
	c.instruments[key] = chosen
	c.instMu.Unlock()
	return &chosen, nil
}

func instrumentKey(symbol string, live bool) string {
	flag := "0"
	if live {
		flag = "1"
	}
	return strings.ToUpper(symbol) + "_" + flag
}
