package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
	"github.com/cookfi/cookfi-agent/pkg/cache"
)

// Discovery gathers candidate tokens from every configured source.
type Discovery struct {
	sources   []domain.TokenSource
	maxTokens int
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewDiscovery(sources []domain.TokenSource, maxTokens int, logger *zap.Logger, metrics *observability.Metrics) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		sources:   sources,
		maxTokens: maxTokens,
		logger:    logger.Named("discovery"),
		metrics:   metrics,
	}
}

// Discover queries all sources concurrently and merges their tokens. A
// failing source is skipped; Discover only fails when every source did.
// Sources are merged in registration order, so the portfolio should come
// first.
func (d *Discovery) Discover(ctx context.Context) ([]domain.Token, error) {
	if len(d.sources) == 0 {
		return nil, nil
	}

	results := make([][]domain.Token, len(d.sources))
	failed := make([]error, len(d.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range d.sources {
		i, src := i, src
		g.Go(func() error {
			start := time.Now()
			tokens, err := src.Tokens(gctx)
			d.metrics.ObserveUpstream(src.Name(), time.Since(start).Seconds(), err)
			if err != nil {
				d.logger.Warn("token source failed", zap.String("source", src.Name()), zap.Error(err))
				failed[i] = err
				return nil
			}
			d.logger.Debug("token source", zap.String("source", src.Name()), zap.Int("tokens", len(tokens)))
			results[i] = tokens
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, err := range failed {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(d.sources) {
		return nil, errors.Wrap(errs[0], "all token sources failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := domain.MergeTokens(results...)
	return d.limit(merged), nil
}

// limit keeps held tokens ahead of the rest when trimming to maxTokens.
func (d *Discovery) limit(tokens []domain.Token) []domain.Token {
	if d.maxTokens <= 0 || len(tokens) <= d.maxTokens {
		return tokens
	}
	kept := domain.HoldingsOf(tokens)
	for _, t := range tokens {
		if !t.HasBalance() {
			kept = append(kept, t)
		}
	}
	return kept[:d.maxTokens]
}

// PortfolioSource exposes a wallet's holdings as a token source, cached for ttl.
type PortfolioSource struct {
	provider domain.PortfolioProvider
	wallet   string
	cache    cache.AgentCache
	ttl      time.Duration
	logger   *zap.Logger
}

func NewPortfolioSource(p domain.PortfolioProvider, wallet string, c cache.AgentCache, ttl time.Duration, logger *zap.Logger) *PortfolioSource {
	if c == nil {
		c = cache.NoOpCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortfolioSource{provider: p, wallet: wallet, cache: c, ttl: ttl, logger: logger}
}

func (p *PortfolioSource) Name() string { return "portfolio" }

func (p *PortfolioSource) key() string { return "portfolio:" + p.wallet }

func (p *PortfolioSource) Tokens(ctx context.Context) ([]domain.Token, error) {
	if tokens, err := cache.GetJSON[[]domain.Token](ctx, p.cache, p.key()); err == nil {
		return tokens, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		p.logger.Warn("portfolio cache read failed", zap.Error(err))
	}

	tokens, err := p.provider.Portfolio(ctx, p.wallet)
	if err != nil {
		return nil, errors.Wrap(err, "portfolio")
	}
	if err := cache.SetJSON(ctx, p.cache, p.key(), tokens, p.ttl); err != nil {
		p.logger.Warn("portfolio cache write failed", zap.Error(err))
	}
	return tokens, nil
}

// Invalidate drops the cached holdings, e.g. after a trade.
func (p *PortfolioSource) Invalidate(ctx context.Context) {
	if err := p.cache.Delete(ctx, p.key()); err != nil {
		p.logger.Warn("portfolio cache delete failed", zap.Error(err))
	}
}

// CachedSource caches another source's tokens for ttl.
type CachedSource struct {
	src    domain.TokenSource
	cache  cache.AgentCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedSource(src domain.TokenSource, c cache.AgentCache, ttl time.Duration, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{src: src, cache: c, ttl: ttl, logger: logger}
}

func (c *CachedSource) Name() string { return c.src.Name() }

func (c *CachedSource) Tokens(ctx context.Context) ([]domain.Token, error) {
	key := "source:" + c.src.Name()
	if tokens, err := cache.GetJSON[[]domain.Token](ctx, c.cache, key); err == nil {
		return tokens, nil
	}
	tokens, err := c.src.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, key, tokens, c.ttl); err != nil {
		c.logger.Debug("token source cache write failed", zap.String("source", c.src.Name()), zap.Error(err))
	}
	return tokens, nil
}
