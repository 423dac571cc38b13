package coinmarketcap

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/pkg/cache"
)

// UniverseKey is the cache key holding the resolved universe.
const UniverseKey = "universe:cmc"

// Fetcher produces the token universe.
type Fetcher interface {
	Universe(ctx context.Context) ([]domain.Token, error)
}

// UniverseSource serves the cached universe as a token source. Refresh is
// driven by a schedule; Tokens never calls CoinMarketCap itself.
type UniverseSource struct {
	fetcher Fetcher
	cache   cache.AgentCache
	logger  *zap.Logger
}

func NewUniverseSource(f Fetcher, c cache.AgentCache, logger *zap.Logger) *UniverseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UniverseSource{fetcher: f, cache: c, logger: logger}
}

func (u *UniverseSource) Name() string { return "coinmarketcap" }

// Tokens returns the last refreshed universe, or nothing before the first refresh.
func (u *UniverseSource) Tokens(ctx context.Context) ([]domain.Token, error) {
	tokens, err := cache.GetJSON[[]domain.Token](ctx, u.cache, UniverseKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		u.logger.Debug("coinmarketcap universe not cached yet")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read universe")
	}
	return tokens, nil
}

// Refresh fetches the universe and stores it without expiry.
func (u *UniverseSource) Refresh(ctx context.Context) (int, error) {
	tokens, err := u.fetcher.Universe(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "fetch universe")
	}
	if err := cache.SetJSON(ctx, u.cache, UniverseKey, tokens, 0); err != nil {
		return 0, errors.Wrap(err, "store universe")
	}
	u.logger.Info("coinmarketcap universe refreshed", zap.Int("tokens", len(tokens)))
	return len(tokens), nil
}
