package bybit

import (
	"fmt"
	"net/http"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// Bybit V5 retCode values the gateway reacts to.
const (
	codeInvalidAPIKey       = 10003
	codeInvalidSignature    = 10004
	codeInvalidTimestamp    = 10005
	codeRateLimitExceeded   = 10006
	codeOrderNotFound       = 110001
	codeInvalidOrderType    = 110004
	codeInsufficientBalance = 110007
	codeSymbolNotFound      = 110009
	codeInvalidQuantity     = 110020
	codeInvalidPrice        = 110021
	codeMarketClosed        = 110043
)

// retCodeText supplies a message when the venue sends an empty retMsg.
var retCodeText = map[int]string{
	codeInvalidAPIKey:       "invalid API key",
	codeInvalidSignature:    "invalid signature",
	codeInvalidTimestamp:    "invalid timestamp",
	codeRateLimitExceeded:   "rate limit exceeded",
	codeOrderNotFound:       "order not found",
	codeInvalidOrderType:    "invalid order type",
	codeInsufficientBalance: "insufficient balance",
	codeSymbolNotFound:      "symbol not found",
	codeInvalidQuantity:     "invalid quantity",
	codeInvalidPrice:        "invalid price",
	codeMarketClosed:        "market is closed",
}

// apiError converts a V5 retCode into a gateway error, or nil when the
// call succeeded. Rate limits, market halts and upstream 5xx codes are
// retryable; rejections the venue decided on purpose are not.
func apiError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if retMsg == "" {
		retMsg = retCodeText[retCode]
	}
	details := fmt.Sprintf("retCode %d", retCode)

	switch retCode {
	case codeRateLimitExceeded:
		return broker.NewGatewayError("RATE_LIMITED", retMsg, true, details)
	case codeMarketClosed:
		return broker.NewGatewayError("MARKET_CLOSED", retMsg, true, details)
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return broker.NewGatewayError("SERVER_ERROR", retMsg, true, details)
	case codeInvalidAPIKey, codeInvalidSignature, codeInvalidTimestamp:
		return broker.NewGatewayError("AUTH_FAILED", retMsg, false, details)
	case codeInsufficientBalance:
		return broker.NewGatewayError("INSUFFICIENT_BALANCE", retMsg, false, details)
	case codeOrderNotFound:
		return broker.NewGatewayError("ORDER_NOT_FOUND", retMsg, false, details)
	case codeSymbolNotFound:
		return broker.NewGatewayError("SYMBOL_NOT_FOUND", retMsg, false, details)
	case codeInvalidQuantity:
		return broker.NewGatewayError("INVALID_VOLUME", retMsg, false, details)
	case codeInvalidPrice:
		return broker.NewGatewayError("INVALID_PRICE", retMsg, false, details)
	case codeInvalidOrderType:
		return broker.NewGatewayError("INVALID_ORDER_TYPE", retMsg, false, details)
	default:
		return broker.NewGatewayError("API_ERROR", retMsg, false, details)
	}
}

// transportError wraps an SDK or network failure. The venue never saw
// the request, so these are always worth retrying.
func transportError(operation string, err error) *broker.GatewayError {
	return broker.NewGatewayError("CONNECTION_FAILED",
		fmt.Sprintf("%s: %v", operation, err), true)
}
