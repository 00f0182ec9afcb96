package bybit

import (
	"context"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// accountTypeUnified is the only account type the gateway trades from;
// Bybit folds spot and derivatives into it on current accounts.
const accountTypeUnified = "UNIFIED"

// WalletEquity reads the unified account's balance and equity. Equity
// includes unrealized PnL, balance does not.
func (c *Client) WalletEquity(ctx context.Context) (broker.AccountInfo, error) {
	params := map[string]interface{}{
		"accountType": accountTypeUnified,
	}

	var info broker.AccountInfo
	err := withRetry(ctx, c.retry, func() error {
		result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return transportError("get wallet balance", err)
		}

		var wallet struct {
			List []struct {
				TotalEquity        string `json:"totalEquity"`
				TotalWalletBalance string `json:"totalWalletBalance"`
			} `json:"list"`
		}
		if err := decodeResult(result, &wallet); err != nil {
			return err
		}
		if len(wallet.List) == 0 {
			return broker.NewGatewayError("NO_ACCOUNT_DATA", "wallet response contained no accounts", false)
		}

		info = broker.AccountInfo{
			Balance: parseFloat(wallet.List[0].TotalWalletBalance),
			Equity:  parseFloat(wallet.List[0].TotalEquity),
		}
		return nil
	})
	return info, err
}
