package birdeye

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

func TestPortfolio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallet/token_list", r.URL.Path)
		assert.Equal(t, "Wallet111", r.URL.Query().Get("wallet"))
		assert.Equal(t, "bkey", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "solana", r.Header.Get("x-chain"))
		w.Write([]byte(`{"success": true, "data": {"wallet": "Wallet111", "totalUsd": 250, "items": [
			{"address": "So11111111111111111111111111111111111111112", "symbol": "SOL", "uiAmount": 1, "valueUsd": 200},
			{"address": "MintA", "symbol": "ALP", "name": "Alpha", "decimals": 6, "uiAmount": 1000, "priceUsd": 0.05, "valueUsd": 50},
			{"address": "MintDust", "symbol": "DUST", "uiAmount": 0}
		]}}`))
	}))
	defer srv.Close()

	c, err := New("bkey", srv.URL, nil)
	require.NoError(t, err)

	tokens, err := c.Portfolio(context.Background(), "Wallet111")
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	tok := tokens[0]
	assert.Equal(t, "MintA", tok.Address)
	assert.Equal(t, domain.ChainSolana, tok.ChainID)
	assert.Equal(t, 6, tok.Decimals)
	require.NotNil(t, tok.Balance)
	assert.Equal(t, 1000.0, tok.Balance.Amount)
	assert.Equal(t, 50.0, tok.Balance.USDValue)
}

func TestPortfolio_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	c, err := New("bkey", srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Portfolio(context.Background(), "Wallet111")
	assert.Error(t, err)
}
