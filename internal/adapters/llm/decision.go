package llm

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/adapters/dexscreener"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

// DecisionMaker implements domain.DecisionMaker on a chat model.
type DecisionMaker struct {
	client  ChatClient
	prompts *Prompts
	comp    completion
	logger  *zap.Logger
}

func NewDecisionMaker(client ChatClient, cfg Config, prompts *Prompts, logger *zap.Logger) *DecisionMaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionMaker{
		client:  client,
		prompts: prompts,
		comp:    completion{model: cfg.Model, temperature: cfg.Temperature, json: true},
		logger:  logger,
	}
}

type decisionPromptData struct {
	Token        domain.Token
	HasPosition  bool
	Summary      string
	AnalysisJSON string
}

type rawDecision struct {
	Recommendation string   `json:"recommendation"`
	Confidence     *float64 `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	Risks          []string `json:"risks"`
	Opportunities  []string `json:"opportunities"`
}

// Decide asks the model for a recommendation on a.
func (d *DecisionMaker) Decide(ctx context.Context, a domain.TokenAnalysis) (*domain.TradeDecision, error) {
	if a.MarketData == nil {
		return nil, errors.Wrapf(domain.ErrNoMarketData, "decide %s", a.Token.Symbol)
	}

	payload, err := json.MarshalIndent(struct {
		Token      domain.Token      `json:"token"`
		MarketData *domain.TokenPair `json:"market_analysis"`
		SocialData []domain.Tweet    `json:"social_analysis"`
	}{a.Token, a.MarketData, a.SocialData}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode analysis")
	}

	hasPosition := a.Token.HasBalance()
	user, err := d.prompts.Decision.render(decisionPromptData{
		Token:        a.Token,
		HasPosition:  hasPosition,
		Summary:      dexscreener.FormatPair(*a.MarketData),
		AnalysisJSON: string(payload),
	})
	if err != nil {
		return nil, err
	}

	out, err := complete(ctx, d.client, d.comp, d.prompts.Decision.System, user)
	if err != nil {
		return nil, errors.Wrapf(err, "decide %s", a.Token.Symbol)
	}

	decision, err := parseDecision(out)
	if err != nil {
		return nil, errors.Wrapf(err, "decide %s", a.Token.Symbol)
	}

	if decision.Recommendation == domain.RecommendationSell && !hasPosition {
		d.logger.Warn("model proposed SELL without a position, holding",
			zap.String("token", a.Token.Symbol),
			zap.Float64("confidence", decision.Confidence),
		)
		decision.Recommendation = domain.RecommendationHold
	}
	return decision, nil
}

func parseDecision(s string) (*domain.TradeDecision, error) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(stripFences(s)), &raw); err != nil {
		return nil, errors.Wrap(err, "parse decision")
	}
	rec, ok := domain.ParseRecommendation(raw.Recommendation)
	if !ok {
		return nil, errors.Errorf("invalid recommendation %q", raw.Recommendation)
	}
	if raw.Confidence == nil {
		return nil, errors.New("decision has no confidence")
	}
	if c := *raw.Confidence; c < 0 || c > 100 {
		return nil, errors.Errorf("confidence %g outside 0..100", c)
	}
	return &domain.TradeDecision{
		Recommendation: rec,
		Confidence:     *raw.Confidence,
		Reasoning:      raw.Reasoning,
		Risks:          raw.Risks,
		Opportunities:  raw.Opportunities,
	}, nil
}
