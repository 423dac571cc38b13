// Package dexscreener reads pair data and boosted-token lists from the
// DexScreener public API.
package dexscreener

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com"
	service        = "dexscreener"

	// DefaultMaxResults caps boosted lists.
	DefaultMaxResults = 10
)

// Boost list kinds.
const (
	BoostsTop    = "top"
	BoostsLatest = "latest"
)

type DexScreenerService struct {
	baseURL string
	client  *http.Client
}

// Option configures a DexScreenerService.
type Option func(*DexScreenerService)

func WithBaseURL(u string) Option {
	return func(s *DexScreenerService) { s.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *DexScreenerService) { s.client = c }
}

func NewDexScreenerService(opts ...Option) *DexScreenerService {
	s := &DexScreenerService{
		baseURL: DefaultBaseURL,
		client:  httpjson.NewClient(10 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rawPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	URL         string `json:"url"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	QuoteToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"quoteToken"`
	PriceNative   string                           `json:"priceNative"`
	PriceUSD      string                           `json:"priceUsd"`
	Txns          domain.Windowed[domain.TxnCount] `json:"txns"`
	Volume        domain.Windowed[float64]         `json:"volume"`
	PriceChange   domain.Windowed[float64]         `json:"priceChange"`
	Liquidity     domain.Liquidity                 `json:"liquidity"`
	FDV           float64                          `json:"fdv"`
	MarketCap     float64                          `json:"marketCap"`
	PairCreatedAt int64                            `json:"pairCreatedAt"`
}

func (p rawPair) toDomain() domain.TokenPair {
	native, _ := strconv.ParseFloat(p.PriceNative, 64)
	usd, _ := strconv.ParseFloat(p.PriceUSD, 64)

	pair := domain.TokenPair{
		ChainID:     p.ChainID,
		DexID:       p.DexID,
		URL:         p.URL,
		PairAddress: p.PairAddress,
		BaseToken:   domain.PairToken(p.BaseToken),
		QuoteToken:  domain.PairToken(p.QuoteToken),
		PriceNative: native,
		PriceUSD:    usd,
		Txns:        p.Txns,
		Volume:      p.Volume,
		PriceChange: p.PriceChange,
		Liquidity:   p.Liquidity,
		FDV:         p.FDV,
		MarketCap:   p.MarketCap,
	}
	if p.PairCreatedAt > 0 {
		pair.PairCreatedAt = time.UnixMilli(p.PairCreatedAt).UTC()
	}
	return pair
}

// TokenPairs returns every pair trading tokenAddress on chainID.
func (s *DexScreenerService) TokenPairs(ctx context.Context, chainID, tokenAddress string) ([]domain.TokenPair, error) {
	var result struct {
		Pairs []rawPair `json:"pairs"`
	}
	u := s.baseURL + "/latest/dex/tokens/" + url.PathEscape(tokenAddress)
	if err := httpjson.Get(ctx, s.client, service, u, nil, &result); err != nil {
		return nil, errors.Wrapf(err, "token pairs for %s", tokenAddress)
	}

	pairs := make([]domain.TokenPair, 0, len(result.Pairs))
	for _, p := range result.Pairs {
		if chainID != "" && p.ChainID != chainID {
			continue
		}
		pairs = append(pairs, p.toDomain())
	}
	return pairs, nil
}

// GetCurrentPrice returns the USD price of the most liquid pair.
func (s *DexScreenerService) GetCurrentPrice(ctx context.Context, chain, tokenAddress string) (float64, error) {
	pairs, err := s.TokenPairs(ctx, chain, tokenAddress)
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, errors.Wrapf(domain.ErrNoMarketData, "price for %s", tokenAddress)
	}

	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best.PriceUSD, nil
}

// BoostedToken is an entry of the token-boosts lists.
type BoostedToken struct {
	URL          string  `json:"url"`
	ChainID      string  `json:"chainId"`
	TokenAddress string  `json:"tokenAddress"`
	Amount       float64 `json:"amount"`
	TotalAmount  float64 `json:"totalAmount"`
	Description  string  `json:"description"`
}

// Token maps a boosted entry to a candidate. DexScreener does not return a
// symbol here, so the last path segment of the address stands in for it.
func (b BoostedToken) Token() domain.Token {
	symbol := b.TokenAddress
	if i := strings.LastIndex(symbol, "/"); i >= 0 {
		symbol = symbol[i+1:]
	}
	name := b.Description
	if name == "" {
		name = b.TokenAddress
	}
	return domain.Token{
		Symbol:  symbol,
		Name:    name,
		Address: b.TokenAddress,
		ChainID: b.ChainID,
	}
}

// Boosted returns the "top" or "latest" boosted tokens.
func (s *DexScreenerService) Boosted(ctx context.Context, kind string) ([]BoostedToken, error) {
	if kind != BoostsTop && kind != BoostsLatest {
		return nil, errors.Errorf("unknown boost list %q", kind)
	}
	var out []BoostedToken
	u := s.baseURL + "/token-boosts/" + kind + "/v1"
	if err := httpjson.Get(ctx, s.client, service, u, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "%s boosts", kind)
	}
	return out, nil
}

// TrendingSource exposes a boosted list as a token source.
type TrendingSource struct {
	svc        *DexScreenerService
	kind       string
	chainID    string
	maxResults int
}

// NewTrendingSource returns a source over the kind list, restricted to
// chainID when non-empty.
func NewTrendingSource(svc *DexScreenerService, kind, chainID string, maxResults int) *TrendingSource {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &TrendingSource{svc: svc, kind: kind, chainID: chainID, maxResults: maxResults}
}

func (t *TrendingSource) Name() string { return "dexscreener-" + t.kind }

func (t *TrendingSource) Tokens(ctx context.Context) ([]domain.Token, error) {
	boosted, err := t.svc.Boosted(ctx, t.kind)
	if err != nil {
		return nil, err
	}

	var tokens []domain.Token
	for _, b := range boosted {
		if t.chainID != "" && b.ChainID != t.chainID {
			continue
		}
		tokens = append(tokens, b.Token())
	}
	tokens = domain.MergeTokens(tokens)
	if len(tokens) > t.maxResults {
		tokens = tokens[:t.maxResults]
	}
	return tokens, nil
}
