// Package moralis reads Solana wallet holdings from the Moralis Solana API.
package moralis

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

const (
	DefaultBaseURL = "https://solana-gateway.moralis.io"
	Network        = "mainnet"
	service        = "moralis"
)

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func New(apiKey, baseURL string, httpClient *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("moralis api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpjson.NewClient(15 * time.Second)
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

type splToken struct {
	AssociatedTokenAddress string `json:"associatedTokenAddress"`
	Mint                   string `json:"mint"`
	AmountRaw              string `json:"amountRaw"`
	Amount                 string `json:"amount"`
	Decimals               int    `json:"decimals"`
	Name                   string `json:"name"`
	Symbol                 string `json:"symbol"`
}

// Portfolio is the raw account portfolio.
type Portfolio struct {
	NativeBalance struct {
		Lamports string `json:"lamports"`
		Solana   string `json:"solana"`
	} `json:"nativeBalance"`
	Tokens []splToken `json:"tokens"`
}

// Fetch returns the raw portfolio of wallet.
func (c *Client) Fetch(ctx context.Context, wallet string) (*Portfolio, error) {
	u := c.baseURL + "/account/" + Network + "/" + url.PathEscape(wallet) + "/portfolio"
	var p Portfolio
	if err := httpjson.Get(ctx, c.http, service, u, map[string]string{"X-API-Key": c.apiKey}, &p); err != nil {
		return nil, errors.Wrap(err, "moralis portfolio")
	}
	return &p, nil
}

// NativeSOL returns the wallet's SOL balance.
func (p *Portfolio) NativeSOL() decimal.Decimal {
	d, err := decimal.NewFromString(p.NativeBalance.Solana)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Portfolio returns the SPL holdings of wallet as tokens with balances.
// Moralis does not price holdings, so USDValue is left at zero.
func (c *Client) Portfolio(ctx context.Context, wallet string) ([]domain.Token, error) {
	p, err := c.Fetch(ctx, wallet)
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.Token, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		amount, err := decimal.NewFromString(t.Amount)
		if err != nil || t.Mint == "" {
			continue
		}
		tokens = append(tokens, domain.Token{
			Symbol:   t.Symbol,
			Name:     t.Name,
			Address:  t.Mint,
			ChainID:  domain.ChainSolana,
			Decimals: t.Decimals,
			Balance:  &domain.TokenBalance{Amount: amount.InexactFloat64()},
		})
	}
	return tokens, nil
}
