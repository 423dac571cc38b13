package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

type fakeMarket struct {
	fail map[string]bool

	mu     sync.Mutex
	chains []string
}

func (f *fakeMarket) TokenPairs(_ context.Context, chainID, addr string) ([]domain.TokenPair, error) {
	f.mu.Lock()
	f.chains = append(f.chains, chainID)
	f.mu.Unlock()
	if f.fail[addr] {
		return nil, errors.New("dexscreener 500")
	}
	if addr == "nopairs" {
		return nil, nil
	}
	return []domain.TokenPair{
		{PairAddress: addr + "-1", PriceUSD: 1},
		{PairAddress: addr + "-2", PriceUSD: 2},
	}, nil
}

type fakeSocial struct {
	err error

	mu      sync.Mutex
	queries []string
}

func (f *fakeSocial) SearchTweets(_ context.Context, query string, max int) ([]domain.Tweet, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Tweet{{Text: "gm " + query}}, nil
}

type fakeBatchSocial struct {
	fakeSocial
	failQuery map[string]bool
	batches   [][]string
}

func (f *fakeBatchSocial) SearchMany(_ context.Context, queries []string, max int) (*domain.SocialResults, error) {
	f.batches = append(f.batches, queries)
	if f.err != nil {
		return nil, f.err
	}
	res := &domain.SocialResults{Tweets: map[string][]domain.Tweet{}, Errors: map[string]error{}}
	for _, q := range queries {
		if f.failQuery[q] {
			res.Errors[q] = errors.New("cookie api returned status: Internal Server Error")
			continue
		}
		res.Tweets[q] = []domain.Tweet{{Text: "about " + q, MatchingQuery: q}}
	}
	return res, nil
}

func TestAnalyzer_Analyze(t *testing.T) {
	market := &fakeMarket{}
	social := &fakeSocial{}
	a := NewAnalyzer(market, social, nil, nil)

	res, err := a.Analyze(context.Background(), domain.Token{Symbol: "BONK", Address: "bonk"})
	require.NoError(t, err)

	require.NotNil(t, res.MarketData)
	assert.Equal(t, "bonk-1", res.MarketData.PairAddress)
	require.Len(t, res.SocialData, 1)
	assert.Equal(t, []string{"BONK $BONK"}, social.queries)
	assert.Equal(t, []string{domain.ChainSolana}, market.chains)
}

func TestAnalyzer_AnalyzeNoPairs(t *testing.T) {
	a := NewAnalyzer(&fakeMarket{}, &fakeSocial{}, nil, nil)

	res, err := a.Analyze(context.Background(), domain.Token{Symbol: "NEW", Address: "nopairs"})
	require.NoError(t, err)
	assert.Nil(t, res.MarketData)
}

func TestAnalyzer_AnalyzeAllDropsFailures(t *testing.T) {
	market := &fakeMarket{fail: map[string]bool{"b": true}}
	a := NewAnalyzer(market, &fakeSocial{}, nil, nil, WithConcurrency(2))

	got, err := a.AnalyzeAll(context.Background(), tokens("a", "b", "c"))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Token.Address)
	assert.Equal(t, "c", got[1].Token.Address)
}

func TestAnalyzer_AnalyzeAllSocialFailureDropsToken(t *testing.T) {
	a := NewAnalyzer(&fakeMarket{}, &fakeSocial{err: errors.New("cookie 401")}, nil, nil, WithConcurrency(0))

	got, err := a.AnalyzeAll(context.Background(), tokens("a"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnalyzer_AnalyzeAllBatch(t *testing.T) {
	market := &fakeMarket{fail: map[string]bool{"b": true}}
	social := &fakeBatchSocial{}
	a := NewAnalyzer(market, social, nil, nil)

	got, err := a.AnalyzeAll(context.Background(), tokens("a", "b", "c"))
	require.NoError(t, err)

	require.Len(t, social.batches, 1)
	assert.Equal(t, []string{"a $a", "b $b", "c $c"}, social.batches[0])
	assert.Empty(t, social.queries)

	require.Len(t, got, 2)
	for _, an := range got {
		require.Len(t, an.SocialData, 1, an.Token.Address)
		assert.Equal(t, an.Token.SocialQuery(), an.SocialData[0].MatchingQuery)
		require.NotNil(t, an.MarketData)
	}
}

func TestAnalyzer_AnalyzeAllBatchDropsFailedQuery(t *testing.T) {
	social := &fakeBatchSocial{failQuery: map[string]bool{"bad $bad": true}}
	a := NewAnalyzer(&fakeMarket{}, social, nil, nil)

	got, err := a.AnalyzeAll(context.Background(), tokens("good", "bad", "ok2"))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "good", got[0].Token.Address)
	assert.Equal(t, "ok2", got[1].Token.Address)
	for _, an := range got {
		require.Len(t, an.SocialData, 1)
		require.NotNil(t, an.MarketData)
	}
}

func TestAnalyzer_AnalyzeAllBatchRunErrorFailsStep(t *testing.T) {
	social := &fakeBatchSocial{fakeSocial: fakeSocial{err: context.Canceled}}
	a := NewAnalyzer(&fakeMarket{}, social, nil, nil)

	_, err := a.AnalyzeAll(context.Background(), tokens("a", "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "social data")
}
