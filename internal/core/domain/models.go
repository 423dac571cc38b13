package domain

import (
	"strings"
	"time"
)

// Chain identifiers as used by DexScreener and the portfolio providers.
const (
	ChainSolana = "solana"
	ChainMantle = "mantle"
)

// Well-known Solana mints.
const (
	SOLMint    = "So11111111111111111111111111111111111111112"
	JupSOLMint = "jupSoLaHXQiZZTSfEWMTRRgpnyFm8f6sZdosWBjx93v"
)

// MantleNativeToken is the LI.FI address of MNT.
const MantleNativeToken = "0x0000000000000000000000000000000000000000"

// BaseAsset returns the asset a chain's buys are paid in and sells settle to.
func BaseAsset(chain string) (address, symbol string, ok bool) {
	switch chain {
	case ChainSolana:
		return SOLMint, "SOL", true
	case ChainMantle:
		return MantleNativeToken, "MNT", true
	}
	return "", "", false
}

// Recommendation is the action proposed by the decision maker.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationSell Recommendation = "SELL"
	RecommendationHold Recommendation = "HOLD"
)

// Valid reports whether r is one of BUY, SELL or HOLD.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationBuy, RecommendationSell, RecommendationHold:
		return true
	}
	return false
}

// ParseRecommendation normalises free-form model output.
func ParseRecommendation(s string) (Recommendation, bool) {
	r := Recommendation(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

// TokenBalance is a wallet holding of a token, in UI units.
type TokenBalance struct {
	Amount   float64 `json:"amount"`
	USDValue float64 `json:"usd_value"`
}

// Token is a trading candidate. Identity is (Address, ChainID).
type Token struct {
	Symbol   string        `json:"symbol"`
	Name     string        `json:"name"`
	Address  string        `json:"address"`
	ChainID  string        `json:"chain_id"`
	Decimals int           `json:"decimals,omitempty"`
	Balance  *TokenBalance `json:"balance,omitempty"`
}

// HasBalance reports whether the token carries a positive holding.
func (t Token) HasBalance() bool {
	return t.Balance != nil && t.Balance.Amount > 0
}

// Cashtag returns the symbol formatted as $SYM.
func (t Token) Cashtag() string {
	return "$" + strings.TrimPrefix(strings.ToUpper(t.Symbol), "$")
}

// SocialQuery is the social search for the token: the bare symbol and its cashtag.
func (t Token) SocialQuery() string {
	return t.Symbol + " $" + t.Symbol
}

// PairToken is one side of a DEX pair.
type PairToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// TxnCount is a buy/sell transaction counter for a window.
type TxnCount struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Windowed holds a metric over the m5/h1/h6/h24 windows.
type Windowed[T any] struct {
	M5  T `json:"m5"`
	H1  T `json:"h1"`
	H6  T `json:"h6"`
	H24 T `json:"h24"`
}

// Liquidity of a pair in USD and in each side's units.
type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// TokenPair is the market data for one DEX pair.
type TokenPair struct {
	ChainID       string             `json:"chainId"`
	DexID         string             `json:"dexId"`
	URL           string             `json:"url"`
	PairAddress   string             `json:"pairAddress"`
	BaseToken     PairToken          `json:"baseToken"`
	QuoteToken    PairToken          `json:"quoteToken"`
	PriceNative   float64            `json:"priceNative"`
	PriceUSD      float64            `json:"priceUsd"`
	Txns          Windowed[TxnCount] `json:"txns"`
	Volume        Windowed[float64]  `json:"volume"`
	PriceChange   Windowed[float64]  `json:"priceChange"`
	Liquidity     Liquidity          `json:"liquidity"`
	FDV           float64            `json:"fdv"`
	MarketCap     float64            `json:"marketCap"`
	PairCreatedAt time.Time          `json:"pairCreatedAt"`
}

// Tweet is a social mention returned by the social data provider.
type Tweet struct {
	Text          string    `json:"text"`
	Author        string    `json:"author"`
	CreatedAt     time.Time `json:"created_at"`
	Likes         int       `json:"likes"`
	Retweets      int       `json:"retweets"`
	Replies       int       `json:"replies"`
	Impressions   int       `json:"impressions"`
	SmartEngagers int       `json:"smart_engagers"`
	MatchingQuery string    `json:"matching_query,omitempty"`
}

// SocialResults is the outcome of a batched search, keyed by query. A query
// is in at most one of the two maps.
type SocialResults struct {
	Tweets map[string][]Tweet
	Errors map[string]error
}

// TokenAnalysis joins market and social data for a token.
type TokenAnalysis struct {
	Token      Token      `json:"token"`
	MarketData *TokenPair `json:"market_data,omitempty"`
	SocialData []Tweet    `json:"social_data"`
}

// TradeDecision is the model output for a single token.
type TradeDecision struct {
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	Risks          []string       `json:"risks"`
	Opportunities  []string       `json:"opportunities"`
}

// DecisionWithAnalysis pairs a decision with the analysis it was made from.
type DecisionWithAnalysis struct {
	Decision TradeDecision `json:"decision"`
	Analysis TokenAnalysis `json:"analysis"`
}

// ExecutionResult is the outcome of acting on a decision.
type ExecutionResult struct {
	Success   bool           `json:"success"`
	Action    Recommendation `json:"action"`
	Amount    float64        `json:"amount,omitempty"`
	Signature string         `json:"signature,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// TradeOutcome ties an execution result back to its decision and analysis.
type TradeOutcome struct {
	DecisionWithAnalysis
	Result ExecutionResult `json:"result"`
}

// SwapRequest describes a swap in UI units of the input token.
type SwapRequest struct {
	Chain       string  `json:"chain"`
	InputMint   string  `json:"input_mint"`
	OutputMint  string  `json:"output_mint"`
	Amount      float64 `json:"amount"`
	Slippage    float64 `json:"slippage"` // percent; zero uses the swapper default
	CycleID     string  `json:"cycle_id,omitempty"`
	InputSymbol string  `json:"input_symbol,omitempty"`
}

// SwapResult is returned by a successful swap.
type SwapResult struct {
	Signature string  `json:"signature"`
	InAmount  float64 `json:"in_amount"`
	OutAmount float64 `json:"out_amount"`
	Slippage  float64 `json:"slippage"`
	Attempts  int     `json:"attempts"`
}

// TradeAlert is the payload of a post-trade notification.
type TradeAlert struct {
	Token         Token          `json:"token"`
	Action        Recommendation `json:"action"`
	Amount        float64        `json:"amount"`
	Price         float64        `json:"price"`
	Signature     string         `json:"signature"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	RiskLevel     RiskLevel      `json:"risk_level"`
	ProfitPercent *float64       `json:"profit_percent,omitempty"`
	MarketData    *TokenPair     `json:"market_data,omitempty"`
}

// RiskLevel is the coarse risk label attached to alerts.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// WalletPnL holds the average-cost PnL for a held token.
type WalletPnL struct {
	Address          string  `json:"token_address"`
	Symbol           string  `json:"symbol,omitempty"`
	TotalBought      float64 `json:"total_bought_tokens"`
	TotalSold        float64 `json:"total_sold_tokens"`
	CurrentBalance   float64 `json:"current_balance_tokens"`
	AverageBuyPrice  float64 `json:"avg_buy_price_usd"`
	AverageSellPrice float64 `json:"avg_sell_price_usd"`

	RealizedPnL   float64 `json:"realized_pnl_usd"`
	UnrealizedPnL float64 `json:"unrealized_pnl_usd"`
	TotalPnL      float64 `json:"total_pnl_usd"`
	ROI           float64 `json:"roi_percentage"`
}

// Fill side values.
const (
	FillBuy  = "buy"
	FillSell = "sell"
)

// Fill is a single executed buy or sell of a token.
type Fill struct {
	Type         string    `json:"type"` // "buy" or "sell"
	TokenAddress string    `json:"token_address"`
	Symbol       string    `json:"symbol,omitempty"`
	Amount       float64   `json:"amount"`
	PriceUSD     float64   `json:"price_usd"`
	Timestamp    time.Time `json:"timestamp"`
	TxHash       string    `json:"tx_hash"`
}
