package service

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
)

// RiskLevel counts three risk factors: a 24h move above 20%, liquidity under
// $10k and a confidence under 60. Two or more is HIGH, one is MEDIUM.
func RiskLevel(pair *domain.TokenPair, confidence float64) domain.RiskLevel {
	factors := 0
	if pair == nil || math.Abs(pair.PriceChange.H24) > 20 {
		factors++
	}
	if pair == nil || pair.Liquidity.USD < 10000 {
		factors++
	}
	if confidence < 60 {
		factors++
	}

	switch {
	case factors >= 2:
		return domain.RiskHigh
	case factors == 1:
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// isLossExit reports a SELL whose reasoning mentions a loss or stop loss.
func isLossExit(o domain.TradeOutcome) bool {
	if o.Result.Action != domain.RecommendationSell || o.Decision.Recommendation != domain.RecommendationSell {
		return false
	}
	return strings.Contains(strings.ToLower(o.Decision.Reasoning), "loss")
}

// Alertable keeps successful BUY and SELL outcomes that carry market data,
// except sells taken at a loss.
func Alertable(outcomes []domain.TradeOutcome) []domain.TradeOutcome {
	var out []domain.TradeOutcome
	for _, o := range outcomes {
		if !o.Result.Success {
			continue
		}
		if o.Result.Action != domain.RecommendationBuy && o.Result.Action != domain.RecommendationSell {
			continue
		}
		if o.Analysis.Token.Address == "" || o.Analysis.MarketData == nil {
			continue
		}
		if isLossExit(o) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// TradeNotifier renders and delivers alerts for a cycle's trades.
type TradeNotifier struct {
	writer  domain.AlertWriter
	sender  domain.Notifier
	fills   domain.FillStore
	calc    domain.PnLCalculator
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewTradeNotifier(writer domain.AlertWriter, sender domain.Notifier, fills domain.FillStore, calc domain.PnLCalculator, logger *zap.Logger, metrics *observability.Metrics) *TradeNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if calc == nil {
		calc = NewPnLCalculator()
	}
	return &TradeNotifier{
		writer:  writer,
		sender:  sender,
		fills:   fills,
		calc:    calc,
		logger:  logger.Named("notifier"),
		metrics: metrics,
	}
}

// Alert builds the alert payload for a trade outcome.
func (n *TradeNotifier) Alert(o domain.TradeOutcome) domain.TradeAlert {
	pair := o.Analysis.MarketData
	alert := domain.TradeAlert{
		Token:      o.Analysis.Token,
		Action:     o.Result.Action,
		Amount:     o.Result.Amount,
		Signature:  o.Result.Signature,
		Confidence: o.Decision.Confidence,
		Reasoning:  o.Decision.Reasoning,
		RiskLevel:  RiskLevel(pair, o.Decision.Confidence),
		MarketData: pair,
	}
	if pair != nil {
		alert.Price = pair.PriceUSD
	}

	if alert.Action == domain.RecommendationSell && n.fills != nil && alert.Price > 0 {
		fills, err := n.fills.Fills(alert.Token.Address)
		if err != nil {
			n.logger.Warn("fills unavailable for profit", zap.String("token", alert.Token.Symbol), zap.Error(err))
		} else if pct, ok := ProfitPercent(n.calc, fills, alert.Price); ok {
			alert.ProfitPercent = &pct
		}
	}
	return alert
}

// NotifyTrades sends one alert per alertable outcome and returns how many
// were delivered. Delivery failures are logged and do not stop the rest.
func (n *TradeNotifier) NotifyTrades(ctx context.Context, outcomes []domain.TradeOutcome) int {
	sent := 0
	for _, o := range Alertable(outcomes) {
		alert := n.Alert(o)
		log := n.logger.With(zap.String("token", alert.Token.Symbol), zap.String("action", string(alert.Action)))

		text, err := n.writer.WriteAlert(ctx, alert)
		if err == nil {
			err = n.sender.Notify(ctx, text)
		}
		n.metrics.ObserveNotification(err)
		if err != nil {
			log.Error("trade alert failed", zap.Error(err))
			continue
		}
		log.Info("trade alert sent", zap.String("text", text))
		sent++
	}
	return sent
}
