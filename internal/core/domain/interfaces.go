package domain

import "context"

// TokenSource yields candidate tokens for a cycle.
type TokenSource interface {
	// Name identifies the source in logs and metrics.
	Name() string
	Tokens(ctx context.Context) ([]Token, error)
}

// PortfolioProvider returns the wallet's current holdings.
type PortfolioProvider interface {
	Portfolio(ctx context.Context, wallet string) ([]Token, error)
}

// MarketDataProvider fetches DEX pair data for a token.
type MarketDataProvider interface {
	TokenPairs(ctx context.Context, chainID, tokenAddress string) ([]TokenPair, error)
}

// PriceService returns the current USD price of a token.
type PriceService interface {
	GetCurrentPrice(ctx context.Context, chain, tokenAddress string) (float64, error)
}

// SocialProvider searches recent social mentions.
type SocialProvider interface {
	SearchTweets(ctx context.Context, query string, maxResults int) ([]Tweet, error)
}

// DecisionMaker turns an analysis into a trade decision.
type DecisionMaker interface {
	Decide(ctx context.Context, analysis TokenAnalysis) (*TradeDecision, error)
}

// Swapper executes swaps on one chain.
type Swapper interface {
	Chain() string
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// AlertWriter renders the text of a trade alert.
type AlertWriter interface {
	WriteAlert(ctx context.Context, alert TradeAlert) (string, error)
}

// Notifier delivers a rendered alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// PnLCalculator computes average-cost PnL for a set of fills.
type PnLCalculator interface {
	Calculate(fills []Fill, currentPrice float64) *WalletPnL
}

// FillStore persists executed fills.
type FillStore interface {
	RecordFill(fill Fill) error
	Fills(tokenAddress string) ([]Fill, error)
}
