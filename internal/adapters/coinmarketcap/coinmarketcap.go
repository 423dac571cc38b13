// Package coinmarketcap builds a token universe from CoinMarketCap listings,
// filtered by tag and mapped to contract addresses on one platform.
package coinmarketcap

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/retry"
)

const (
	DefaultBaseURL   = "https://pro-api.coinmarketcap.com"
	DefaultPageSize  = 1000
	DefaultPageDelay = 5 * time.Second
	DefaultInfoBatch = 40
	DefaultInfoDelay = 500 * time.Millisecond

	service       = "coinmarketcap"
	stablecoinTag = "stablecoin"
	pageAttempts  = 3
)

type Config struct {
	APIKey    string
	BaseURL   string
	Tag       string
	ChainName string // platform name as CMC reports it, e.g. "Solana"
	ChainID   string // chain id stamped on the resulting tokens
	PageSize  int
	MaxPages  int // zero means until an empty page
	PageDelay time.Duration
	InfoBatch int
	InfoDelay time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	sleep  retry.SleepFunc
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }
func WithLogger(l *zap.Logger) Option      { return func(cl *Client) { cl.logger = l } }
func WithSleep(s retry.SleepFunc) Option   { return func(cl *Client) { cl.sleep = s } }

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("coinmarketcap api key is required")
	}
	if cfg.Tag == "" || cfg.ChainName == "" {
		return nil, errors.New("coinmarketcap tag and chain name are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = DefaultPageDelay
	}
	if cfg.InfoBatch <= 0 {
		cfg.InfoBatch = DefaultInfoBatch
	}
	if cfg.InfoDelay <= 0 {
		cfg.InfoDelay = DefaultInfoDelay
	}

	c := &Client{
		cfg:    cfg,
		http:   httpjson.NewClient(30 * time.Second),
		logger: zap.NewNop(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type status struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (s status) err() error {
	if s.ErrorCode == 0 {
		return nil
	}
	return errors.Errorf("coinmarketcap error %d: %s", s.ErrorCode, s.ErrorMessage)
}

// Listing is the subset of a listings/latest entry the universe needs.
type Listing struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Symbol  string   `json:"symbol"`
	Tags    []string `json:"tags"`
	CMCRank int      `json:"cmc_rank"`
}

type listingsResponse struct {
	Status status    `json:"status"`
	Data   []Listing `json:"data"`
}

type contractAddress struct {
	ContractAddress string `json:"contract_address"`
	Platform        struct {
		Name string `json:"name"`
		Coin struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"coin"`
	} `json:"platform"`
}

type infoResponse struct {
	Status status `json:"status"`
	Data   map[string]struct {
		ID              int               `json:"id"`
		ContractAddress []contractAddress `json:"contract_address"`
	} `json:"data"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{"X-CMC_PRO_API_KEY": c.cfg.APIKey}
}

// keep reports whether a listing carries the configured tag and is not a stablecoin.
func (c *Client) keep(l Listing) bool {
	return slices.Contains(l.Tags, c.cfg.Tag) && !slices.Contains(l.Tags, stablecoinTag)
}

// Listings pages through listings/latest and returns the tagged entries.
func (c *Client) Listings(ctx context.Context) ([]Listing, error) {
	var out []Listing
	start := 1
	for page := 0; c.cfg.MaxPages <= 0 || page < c.cfg.MaxPages; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
				return nil, err
			}
		}

		params := url.Values{}
		params.Set("start", strconv.Itoa(start))
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
		u := c.cfg.BaseURL + "/v1/cryptocurrency/listings/latest?" + params.Encode()

		resp, err := c.listingsPage(ctx, u)
		if err != nil {
			return nil, errors.Wrapf(err, "listings from %d", start)
		}
		if err := resp.Status.err(); err != nil {
			return nil, errors.Wrapf(err, "listings from %d", start)
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, l := range resp.Data {
			if c.keep(l) {
				out = append(out, l)
			}
		}
		if len(resp.Data) < c.cfg.PageSize {
			break
		}
		start += c.cfg.PageSize
	}
	return out, nil
}

// listingsPage fetches one page, backing off from the page delay while
// CoinMarketCap answers 429.
func (c *Client) listingsPage(ctx context.Context, u string) (*listingsResponse, error) {
	policy := retry.Policy{
		MaxAttempts: pageAttempts,
		Backoff:     retry.Exponential(c.cfg.PageDelay, 4*c.cfg.PageDelay),
		Sleep:       c.sleep,
	}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*listingsResponse, error) {
		var resp listingsResponse
		err := httpjson.Get(ctx, c.http, service, u, c.headers(), &resp)
		if errors.Is(err, domain.ErrRateLimited) {
			c.logger.Warn("coinmarketcap rate limited", zap.Int("attempt", attempt))
			return nil, err
		}
		if err != nil {
			return nil, retry.Permanent(err)
		}
		return &resp, nil
	})
}

// Resolve maps listings to tokens on the configured platform, in batches.
// A failing batch is logged and skipped, as are listings without a contract
// on the platform.
func (c *Client) Resolve(ctx context.Context, listings []Listing) ([]domain.Token, error) {
	var tokens []domain.Token
	for start := 0; start < len(listings); start += c.cfg.InfoBatch {
		if start > 0 {
			if err := c.sleep(ctx, c.cfg.InfoDelay); err != nil {
				return nil, err
			}
		}
		batch := listings[start:min(start+c.cfg.InfoBatch, len(listings))]

		ids := make([]string, len(batch))
		for i, l := range batch {
			ids[i] = strconv.Itoa(l.ID)
		}
		u := c.cfg.BaseURL + "/v2/cryptocurrency/info?id=" + url.QueryEscape(strings.Join(ids, ","))

		var resp infoResponse
		err := httpjson.Get(ctx, c.http, service, u, c.headers(), &resp)
		if err == nil {
			err = resp.Status.err()
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("coinmarketcap info batch failed", zap.Int("batch_start", start), zap.Error(err))
			continue
		}

		for _, l := range batch {
			info, ok := resp.Data[strconv.Itoa(l.ID)]
			if !ok {
				continue
			}
			for _, ca := range info.ContractAddress {
				if ca.Platform.Name != c.cfg.ChainName || ca.ContractAddress == "" {
					continue
				}
				symbol, name := ca.Platform.Coin.Symbol, ca.Platform.Coin.Name
				if symbol == "" {
					symbol = l.Symbol
				}
				if name == "" {
					name = l.Name
				}
				tokens = append(tokens, domain.Token{
					Symbol:  symbol,
					Name:    name,
					Address: ca.ContractAddress,
					ChainID: c.cfg.ChainID,
				})
				break
			}
		}
	}
	return tokens, nil
}

// Universe fetches listings and resolves them to tokens.
func (c *Client) Universe(ctx context.Context) ([]domain.Token, error) {
	listings, err := c.Listings(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("coinmarketcap listings filtered", zap.String("tag", c.cfg.Tag), zap.Int("count", len(listings)))
	return c.Resolve(ctx, listings)
}
