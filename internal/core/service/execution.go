package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
)

// ExecutionConfig holds the confidence gate and buy sizing bounds. The
// default bounds are in SOL; ChainBounds overrides them for chains paying in
// another base asset.
type ExecutionConfig struct {
	MinConfidence float64
	MaxConfidence float64
	MinBuyAmount  float64
	MaxBuyAmount  float64
	ChainBounds   map[string]BuyBounds
	DryRun        bool
}

// BuyBounds is a buy size range in a chain's base asset.
type BuyBounds struct {
	Min float64
	Max float64
}

// ForChain returns the config with the buy bounds of chain applied.
func (c ExecutionConfig) ForChain(chain string) ExecutionConfig {
	if b, ok := c.ChainBounds[chain]; ok {
		c.MinBuyAmount, c.MaxBuyAmount = b.Min, b.Max
	}
	return c
}

// DefaultExecutionConfig gates at 80 and buys between 0.01 and 0.1 SOL.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MinConfidence: 80,
		MaxConfidence: 100,
		MinBuyAmount:  0.01,
		MaxBuyAmount:  0.1,
	}
}

// BuySize scales the buy amount linearly from MinBuyAmount at MinConfidence
// to MaxBuyAmount at MaxConfidence, clamped to that range.
func (c ExecutionConfig) BuySize(confidence float64) float64 {
	lo, hi := decimal.NewFromFloat(c.MinBuyAmount), decimal.NewFromFloat(c.MaxBuyAmount)
	span := decimal.NewFromFloat(c.MaxConfidence).Sub(decimal.NewFromFloat(c.MinConfidence))
	if span.Sign() <= 0 {
		return c.MaxBuyAmount
	}
	scale := decimal.NewFromFloat(confidence).Sub(decimal.NewFromFloat(c.MinConfidence)).Div(span)
	amount := lo.Add(hi.Sub(lo).Mul(scale))
	return decimal.Min(hi, decimal.Max(lo, amount)).InexactFloat64()
}

// Executor acts on trade decisions through the per-chain swappers.
type Executor struct {
	cfg      ExecutionConfig
	swappers map[string]domain.Swapper
	fills    domain.FillStore
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewExecutor(cfg ExecutionConfig, swappers []domain.Swapper, fills domain.FillStore, logger *zap.Logger, metrics *observability.Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	bySwapper := make(map[string]domain.Swapper, len(swappers))
	for _, s := range swappers {
		bySwapper[s.Chain()] = s
	}
	return &Executor{
		cfg:      cfg,
		swappers: bySwapper,
		fills:    fills,
		logger:   logger.Named("execution"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Execute applies the confidence gate and then swaps, sells or holds.
// Failures are reported in the result, never as an error.
func (e *Executor) Execute(ctx context.Context, cycleID string, a domain.TokenAnalysis, d domain.TradeDecision) domain.ExecutionResult {
	res := e.execute(ctx, cycleID, a, d)
	e.metrics.ObserveExecution(string(res.Action), res.Success)
	return res
}

func (e *Executor) execute(ctx context.Context, cycleID string, a domain.TokenAnalysis, d domain.TradeDecision) domain.ExecutionResult {
	token := a.Token
	log := e.logger.With(
		zap.String("token", token.Symbol),
		zap.String("address", token.Address),
		zap.String("recommendation", string(d.Recommendation)),
		zap.Float64("confidence", d.Confidence),
	)

	if d.Confidence < e.cfg.MinConfidence {
		log.Debug("confidence below threshold, holding")
		return domain.ExecutionResult{Success: true, Action: domain.RecommendationHold, Error: "Confidence too low"}
	}

	if e.cfg.DryRun {
		log.Info("[DRY RUN] would execute", zap.String("reasoning", d.Reasoning))
		res := domain.ExecutionResult{Success: true, Action: d.Recommendation}
		if d.Recommendation == domain.RecommendationBuy {
			res.Amount = e.cfg.ForChain(token.ChainID).BuySize(d.Confidence)
		}
		return res
	}

	switch d.Recommendation {
	case domain.RecommendationBuy:
		amount := e.cfg.ForChain(token.ChainID).BuySize(d.Confidence)
		swap, err := e.swap(ctx, cycleID, token, amount, true)
		if err != nil {
			log.Error("buy failed", zap.Float64("amount", amount), zap.Error(err))
			return domain.ExecutionResult{Success: false, Action: domain.RecommendationBuy, Error: err.Error()}
		}
		log.Info("executed buy", zap.Float64("amount", amount), zap.String("signature", swap.Signature))
		e.recordFill(token, domain.FillBuy, swap.OutAmount, a.MarketData, swap.Signature)
		return domain.ExecutionResult{Success: true, Action: domain.RecommendationBuy, Amount: amount, Signature: swap.Signature}

	case domain.RecommendationSell:
		if !token.HasBalance() {
			return domain.ExecutionResult{Success: false, Action: domain.RecommendationSell, Error: "No balance"}
		}
		amount := token.Balance.Amount
		swap, err := e.swap(ctx, cycleID, token, amount, false)
		if err != nil {
			log.Error("sell failed", zap.Float64("amount", amount), zap.Error(err))
			return domain.ExecutionResult{Success: false, Action: domain.RecommendationSell, Error: err.Error()}
		}
		log.Info("executed sell", zap.Float64("amount", amount), zap.String("signature", swap.Signature))
		e.recordFill(token, domain.FillSell, amount, a.MarketData, swap.Signature)
		return domain.ExecutionResult{Success: true, Action: domain.RecommendationSell, Amount: amount, Signature: swap.Signature}

	default:
		log.Info("holding position")
		return domain.ExecutionResult{Success: true, Action: domain.RecommendationHold}
	}
}

func (e *Executor) swap(ctx context.Context, cycleID string, token domain.Token, amount float64, buy bool) (*domain.SwapResult, error) {
	chain := token.ChainID
	if chain == "" {
		chain = domain.ChainSolana
	}
	swapper, ok := e.swappers[chain]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnsupportedChain, "%q", chain)
	}
	base, baseSymbol, ok := domain.BaseAsset(chain)
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnsupportedChain, "%q has no base asset", chain)
	}

	req := domain.SwapRequest{Chain: chain, Amount: amount, CycleID: cycleID}
	if buy {
		req.InputMint, req.OutputMint, req.InputSymbol = base, token.Address, baseSymbol
	} else {
		req.InputMint, req.OutputMint, req.InputSymbol = token.Address, base, token.Symbol
	}
	return swapper.Swap(ctx, req)
}

func (e *Executor) recordFill(token domain.Token, side string, amount float64, market *domain.TokenPair, sig string) {
	if e.fills == nil {
		return
	}
	fill := domain.Fill{
		Type:         side,
		TokenAddress: token.Address,
		Symbol:       token.Symbol,
		Amount:       amount,
		Timestamp:    e.now(),
		TxHash:       sig,
	}
	if market != nil {
		fill.PriceUSD = market.PriceUSD
	}
	if err := e.fills.RecordFill(fill); err != nil {
		e.logger.Error("record fill failed", zap.String("token", token.Symbol), zap.String("signature", sig), zap.Error(err))
	}
}
