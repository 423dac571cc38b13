package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
)

const DefaultJupiterURL = "https://lite-api.jup.ag/swap/v1"

// JupiterClient talks to the Jupiter swap API.
type JupiterClient struct {
	baseURL string
	http    *http.Client
}

func NewJupiterClient(baseURL string, httpClient *http.Client) *JupiterClient {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	if httpClient == nil {
		httpClient = httpjson.NewClient(20 * time.Second)
	}
	return &JupiterClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Quote is a Jupiter route. Raw is sent back unchanged when building the swap.
type Quote struct {
	InAmount       uint64
	OutAmount      uint64
	SlippageBps    int
	PriceImpactPct float64
	Raw            json.RawMessage
}

type quoteFields struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// SlippageBps converts a percentage to basis points.
func SlippageBps(pct float64) int {
	return int(pct*100 + 0.5)
}

// Quote asks for a route swapping amount base units of inputMint.
func (j *JupiterClient) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	var raw json.RawMessage
	if err := httpjson.Get(ctx, j.http, "jupiter", j.baseURL+"/quote?"+params.Encode(), nil, &raw); err != nil {
		return nil, errors.Wrap(err, "jupiter quote")
	}

	var f quoteFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "decode jupiter quote")
	}
	in, err := strconv.ParseUint(f.InAmount, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "jupiter quote inAmount")
	}
	out, err := strconv.ParseUint(f.OutAmount, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "jupiter quote outAmount")
	}
	impact, _ := strconv.ParseFloat(f.PriceImpactPct, 64)

	return &Quote{
		InAmount:       in,
		OutAmount:      out,
		SlippageBps:    f.SlippageBps,
		PriceImpactPct: impact,
		Raw:            raw,
	}, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SwapTransaction returns the unsigned serialized transaction for q.
func (j *JupiterClient) SwapTransaction(ctx context.Context, q *Quote, userPublicKey string) ([]byte, error) {
	body := swapRequest{
		QuoteResponse:             q.Raw,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	}

	var resp swapResponse
	if err := httpjson.Post(ctx, j.http, "jupiter", j.baseURL+"/swap", nil, body, &resp); err != nil {
		return nil, errors.Wrap(err, "jupiter swap")
	}
	if resp.SwapTransaction == "" {
		return nil, errors.New("jupiter swap: empty transaction")
	}
	tx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "decode swap transaction")
	}
	return tx, nil
}
