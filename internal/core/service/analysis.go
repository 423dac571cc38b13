package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
)

// DefaultMaxTweets is the number of mentions fetched per token.
const DefaultMaxTweets = 10

// BatchSocialProvider searches many queries at once and paces the requests
// itself. Failed queries are reported per query; the error is reserved for
// the run as a whole, e.g. a cancelled context.
type BatchSocialProvider interface {
	domain.SocialProvider
	SearchMany(ctx context.Context, queries []string, maxResults int) (*domain.SocialResults, error)
}

// Analyzer joins market and social data per token.
type Analyzer struct {
	market      domain.MarketDataProvider
	social      domain.SocialProvider
	maxTweets   int
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

type AnalyzerOption func(*Analyzer)

// WithMaxTweets sets the mentions fetched per token.
func WithMaxTweets(n int) AnalyzerOption {
	return func(a *Analyzer) { a.maxTweets = n }
}

// WithConcurrency caps the tokens analysed at once; zero removes the cap.
func WithConcurrency(n int) AnalyzerOption {
	return func(a *Analyzer) { a.concurrency = n }
}

func NewAnalyzer(market domain.MarketDataProvider, social domain.SocialProvider, logger *zap.Logger, metrics *observability.Metrics, opts ...AnalyzerOption) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Analyzer{
		market:      market,
		social:      social,
		maxTweets:   DefaultMaxTweets,
		concurrency: 8,
		logger:      logger.Named("analysis"),
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.concurrency <= 0 {
		a.concurrency = -1
	}
	return a
}

func (a *Analyzer) pairs(ctx context.Context, t domain.Token) (*domain.TokenPair, error) {
	chainID := t.ChainID
	if chainID == "" {
		chainID = domain.ChainSolana
	}
	start := time.Now()
	pairs, err := a.market.TokenPairs(ctx, chainID, t.Address)
	a.metrics.ObserveUpstream("dexscreener", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, errors.Wrapf(err, "market data for %s", t.Symbol)
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	return &pairs[0], nil
}

// Analyze fetches market pairs and social mentions for t concurrently.
func (a *Analyzer) Analyze(ctx context.Context, t domain.Token) (*domain.TokenAnalysis, error) {
	out := &domain.TokenAnalysis{Token: t}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pair, err := a.pairs(gctx, t)
		out.MarketData = pair
		return err
	})
	g.Go(func() error {
		start := time.Now()
		tweets, err := a.social.SearchTweets(gctx, t.SocialQuery(), a.maxTweets)
		a.metrics.ObserveUpstream("cookie", time.Since(start).Seconds(), err)
		if err != nil {
			return errors.Wrapf(err, "social data for %s", t.Symbol)
		}
		out.SocialData = tweets
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeAll analyses every token and returns the complete analyses in input
// order. A token whose market or social data fails is dropped. When the
// social provider batches, mentions for all tokens are fetched in one paced
// run alongside the market data.
func (a *Analyzer) AnalyzeAll(ctx context.Context, tokens []domain.Token) ([]domain.TokenAnalysis, error) {
	batch, ok := a.social.(BatchSocialProvider)
	if !ok {
		return a.analyzeEach(ctx, tokens)
	}

	pairs := make([]*domain.TokenPair, len(tokens))
	pairErrs := make([]error, len(tokens))
	var social *domain.SocialResults

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		queries := make([]string, len(tokens))
		for i, t := range tokens {
			queries[i] = t.SocialQuery()
		}
		start := time.Now()
		var err error
		social, err = batch.SearchMany(gctx, queries, a.maxTweets)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			a.metrics.ObserveUpstream("cookie", elapsed, err)
			return errors.Wrap(err, "social data")
		}
		a.metrics.ObserveUpstream("cookie", elapsed, nil)
		for _, qerr := range social.Errors {
			a.metrics.ObserveUpstream("cookie", elapsed, qerr)
		}
		return nil
	})
	g.Go(func() error {
		mg, mctx := errgroup.WithContext(gctx)
		mg.SetLimit(a.concurrency)
		for i, t := range tokens {
			i, t := i, t
			mg.Go(func() error {
				pairs[i], pairErrs[i] = a.pairs(mctx, t)
				return nil
			})
		}
		return mg.Wait()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.TokenAnalysis, 0, len(tokens))
	for i, t := range tokens {
		if pairErrs[i] != nil {
			a.logger.Warn("analysis dropped", zap.String("token", t.Symbol), zap.Error(pairErrs[i]))
			continue
		}
		q := t.SocialQuery()
		if err := social.Errors[q]; err != nil {
			a.logger.Warn("analysis dropped", zap.String("token", t.Symbol),
				zap.Error(errors.Wrapf(err, "social data for %s", t.Symbol)))
			continue
		}
		out = append(out, domain.TokenAnalysis{
			Token:      t,
			MarketData: pairs[i],
			SocialData: social.Tweets[q],
		})
	}
	return out, nil
}

func (a *Analyzer) analyzeEach(ctx context.Context, tokens []domain.Token) ([]domain.TokenAnalysis, error) {
	results := make([]*domain.TokenAnalysis, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, t := range tokens {
		i, t := i, t
		g.Go(func() error {
			res, err := a.Analyze(gctx, t)
			if err != nil {
				a.logger.Warn("analysis dropped", zap.String("token", t.Symbol), zap.Error(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.TokenAnalysis, 0, len(tokens))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
