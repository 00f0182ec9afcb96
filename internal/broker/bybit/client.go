// Package bybit adapts the Bybit V5 REST API to the broker contract.
// The Gateway type serves market data, order execution and account
// reads for linear perpetual contracts; positions are netted per
// symbol and side, so tickets are synthesized from symbol, side and
// open time rather than venue order IDs.
package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
)

// demoBaseURL is Bybit's demo-trading environment. The upstream client
// only ships TESTNET and MAINNET constants.
const demoBaseURL = "https://api-demo.bybit.com"

// Config holds the connection settings for the Bybit client.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	Category  string // contract category, "linear" unless overridden
}

// Client wraps the Bybit V5 HTTP client. All request methods translate
// venue responses and error codes into the broker package's types.
type Client struct {
	httpClient  *bybit_api.Client
	category    string
	testnet     bool
	demo        bool
	retry       retryConfig
	instruments *InstrumentCache
}

// NewClient creates a Bybit client for the configured environment.
func NewClient(cfg Config) *Client {
	if cfg.Category == "" {
		cfg.Category = "linear"
	}

	var baseURL string
	if cfg.Demo {
		baseURL = demoBaseURL
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	c := &Client{
		httpClient: httpClient,
		category:   cfg.Category,
		testnet:    cfg.Testnet,
		demo:       cfg.Demo,
		retry:      defaultRetryConfig(),
	}
	c.instruments = NewInstrumentCache(c)
	return c
}

// Category returns the contract category the client trades.
func (c *Client) Category() string {
	return c.category
}

// IsDemo returns whether the client targets the demo environment.
func (c *Client) IsDemo() bool {
	return c.demo
}

// IsTestnet returns whether the client targets testnet.
func (c *Client) IsTestnet() bool {
	return c.testnet
}

// Environment returns a short name for the configured environment.
func (c *Client) Environment() string {
	if c.demo {
		return "demo"
	}
	if c.testnet {
		return "testnet"
	}
	return "mainnet"
}

// Instruments returns the client's instrument constraint cache.
func (c *Client) Instruments() *InstrumentCache {
	return c.instruments
}

// decodeResult unwraps a V5 response envelope into out. A non-zero
// retCode is surfaced as a gateway error before any decoding happens.
func decodeResult(response interface{}, out interface{}) error {
	resp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return broker.NewGatewayError("BAD_RESPONSE", "unexpected response shape from bybit client", false)
	}
	if err := apiError(resp.RetCode, resp.RetMsg); err != nil {
		return err
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// Bybit quotes every numeric field as a string.

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(s, 10, 64)
	if msec == 0 {
		return time.Time{}
	}
	return time.UnixMilli(msec)
}
