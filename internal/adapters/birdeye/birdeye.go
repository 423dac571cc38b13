// Package birdeye reads priced wallet holdings from the Birdeye public API.
package birdeye

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

const (
	DefaultBaseURL = "https://public-api.birdeye.so"
	service        = "birdeye"
)

type Client struct {
	apiKey  string
	baseURL string
	chain   string
	http    *http.Client
}

func New(apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("birdeye api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpjson.NewClient(15 * time.Second)
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		chain:   domain.ChainSolana,
		http:    httpClient,
	}, nil
}

// Item is one wallet holding.
type Item struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Decimals int     `json:"decimals"`
	Price    float64 `json:"priceUsd"`
	Value    float64 `json:"valueUsd"`
	UIAmount float64 `json:"uiAmount"`
}

type tokenListResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Wallet   string  `json:"wallet"`
		TotalUSD float64 `json:"totalUsd"`
		Items    []Item  `json:"items"`
	} `json:"data"`
}

// Portfolio returns the holdings of wallet, excluding native SOL and dust
// with no amount.
func (c *Client) Portfolio(ctx context.Context, wallet string) ([]domain.Token, error) {
	u := c.baseURL + "/v1/wallet/token_list?wallet=" + url.QueryEscape(wallet)
	headers := map[string]string{
		"X-API-KEY": c.apiKey,
		"x-chain":   c.chain,
	}

	var resp tokenListResponse
	if err := httpjson.Get(ctx, c.http, service, u, headers, &resp); err != nil {
		return nil, errors.Wrap(err, "birdeye token list")
	}
	if !resp.Success {
		return nil, errors.New("birdeye token list: unsuccessful response")
	}

	tokens := make([]domain.Token, 0, len(resp.Data.Items))
	for _, it := range resp.Data.Items {
		if it.Address == "" || it.Address == domain.SOLMint || it.UIAmount <= 0 {
			continue
		}
		tokens = append(tokens, domain.Token{
			Symbol:   it.Symbol,
			Name:     it.Name,
			Address:  it.Address,
			ChainID:  c.chain,
			Decimals: it.Decimals,
			Balance:  &domain.TokenBalance{Amount: it.UIAmount, USDValue: it.Value},
		})
	}
	return tokens, nil
}
