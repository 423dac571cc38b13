package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

const pairsBody = `{
  "schemaVersion": "1.0.0",
  "pairs": [
    {
      "chainId": "solana",
      "dexId": "raydium",
      "url": "https://dexscreener.com/solana/pair1",
      "pairAddress": "pair1",
      "baseToken": {"address": "mintA", "name": "Alpha", "symbol": "ALP"},
      "quoteToken": {"address": "So11111111111111111111111111111111111111112", "name": "Wrapped SOL", "symbol": "SOL"},
      "priceNative": "0.0001",
      "priceUsd": "0.0215",
      "txns": {"m5": {"buys": 3, "sells": 1}, "h1": {"buys": 30, "sells": 20}, "h6": {"buys": 100, "sells": 90}, "h24": {"buys": 400, "sells": 350}},
      "volume": {"h24": 1250000, "h6": 300000, "h1": 50000, "m5": 2000},
      "priceChange": {"m5": 0.5, "h1": -1.2, "h6": 4, "h24": 25.5},
      "liquidity": {"usd": 85000, "base": 1000000, "quote": 400},
      "fdv": 21500000,
      "marketCap": 21000000,
      "pairCreatedAt": 1700000000000
    },
    {
      "chainId": "solana",
      "dexId": "orca",
      "pairAddress": "pair2",
      "baseToken": {"address": "mintA", "name": "Alpha", "symbol": "ALP"},
      "quoteToken": {"address": "usdc", "name": "USD Coin", "symbol": "USDC"},
      "priceUsd": "0.0220",
      "liquidity": {"usd": 150000}
    },
    {
      "chainId": "base",
      "dexId": "uniswap",
      "pairAddress": "pair3",
      "baseToken": {"address": "mintA", "name": "Alpha", "symbol": "ALP"},
      "priceUsd": "9"
    }
  ]
}`

func newTestService(t *testing.T, handler http.HandlerFunc) *DexScreenerService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDexScreenerService(WithBaseURL(srv.URL))
}

func TestTokenPairs_MapsAndFiltersChain(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/mintA", r.URL.Path)
		w.Write([]byte(pairsBody))
	})

	pairs, err := svc.TokenPairs(context.Background(), domain.ChainSolana, "mintA")
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	p := pairs[0]
	assert.Equal(t, "raydium", p.DexID)
	assert.Equal(t, "ALP", p.BaseToken.Symbol)
	assert.InDelta(t, 0.0215, p.PriceUSD, 1e-9)
	assert.InDelta(t, 0.0001, p.PriceNative, 1e-9)
	assert.Equal(t, 400, p.Txns.H24.Buys)
	assert.Equal(t, 1250000.0, p.Volume.H24)
	assert.Equal(t, 25.5, p.PriceChange.H24)
	assert.Equal(t, 85000.0, p.Liquidity.USD)
	assert.Equal(t, int64(1700000000), p.PairCreatedAt.Unix())
}

func TestTokenPairs_NoPairs(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	})

	pairs, err := svc.TokenPairs(context.Background(), domain.ChainSolana, "nothing")
	require.NoError(t, err)
	assert.Empty(t, pairs)

	_, err = svc.GetCurrentPrice(context.Background(), domain.ChainSolana, "nothing")
	assert.ErrorIs(t, err, domain.ErrNoMarketData)
}

func TestGetCurrentPrice_MostLiquidPair(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pairsBody))
	})

	price, err := svc.GetCurrentPrice(context.Background(), domain.ChainSolana, "mintA")
	require.NoError(t, err)
	assert.InDelta(t, 0.022, price, 1e-9)
}

func TestTokenPairs_UpstreamError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := svc.TokenPairs(context.Background(), domain.ChainSolana, "mintA")
	assert.Error(t, err)
}

func TestTrendingSource(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token-boosts/top/v1", r.URL.Path)
		w.Write([]byte(`[
		  {"chainId":"solana","tokenAddress":"mintA","url":"u","totalAmount":500,"description":"Alpha token"},
		  {"chainId":"solana","tokenAddress":"mintA","url":"u","totalAmount":100},
		  {"chainId":"ethereum","tokenAddress":"0xabc","url":"u","totalAmount":50},
		  {"chainId":"solana","tokenAddress":"mintB","url":"u","totalAmount":10}
		]`))
	})

	src := NewTrendingSource(svc, BoostsTop, domain.ChainSolana, 10)
	assert.Equal(t, "dexscreener-top", src.Name())

	tokens, err := src.Tokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "mintA", tokens[0].Address)
	assert.Equal(t, "mintA", tokens[0].Symbol)
	assert.Equal(t, "Alpha token", tokens[0].Name)
	assert.Nil(t, tokens[0].Balance)
	assert.Equal(t, "mintB", tokens[1].Name)
}

func TestTrendingSource_MaxResults(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"chainId":"solana","tokenAddress":"a"},{"chainId":"solana","tokenAddress":"b"},{"chainId":"solana","tokenAddress":"c"}]`))
	})

	tokens, err := NewTrendingSource(svc, BoostsLatest, "", 2).Tokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}

func TestBoosted_UnknownKind(t *testing.T) {
	_, err := NewDexScreenerService().Boosted(context.Background(), "weekly")
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{999.994, "999.99"},
		{1500, "1.50K"},
		{2_340_000, "2.34M"},
		{7_100_000_000, "7.10B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatNumber(tt.in))
	}
}

func TestFormatPair(t *testing.T) {
	p := domain.TokenPair{
		ChainID:   "solana",
		DexID:     "raydium",
		BaseToken: domain.PairToken{Symbol: "ALP"},
		PriceUSD:  0.0215,
		Volume:    domain.Windowed[float64]{H24: 1_250_000},
		Liquidity: domain.Liquidity{USD: 85_000},
	}

	assert.Equal(t, "ALP | $0.0215 | Vol: $1.25M | Liq: $85.00K | raydium | solana", FormatPair(p))
	assert.Equal(t, []string{"$ALP"}, Tickers([]domain.TokenPair{p}))
}
