// Package cookie searches recent tweets through the Cookie.fun API.
package cookie

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/retry"
)

const (
	DefaultBaseURL    = "https://api.cookie.fun"
	DefaultMaxResults = 10
	DefaultRateLimit  = 60 // requests per minute
	DefaultBatchSize  = 3
	DefaultBatchDelay = 20 * time.Second
	DefaultLookback   = 72 * time.Hour

	searchPath = "/v1/tweets/search/"
	service    = "cookie"
)

// Config configures a Client. Zero values fall back to the defaults above.
type Config struct {
	APIKey     string
	BaseURL    string
	RateLimit  int
	BatchSize  int
	BatchDelay time.Duration
	MaxResults int
	Lookback   time.Duration
}

type Client struct {
	apiKey     string
	baseURL    string
	http       *http.Client
	limiter    *rate.Limiter
	batchSize  int
	batchDelay time.Duration
	maxResults int
	lookback   time.Duration

	now   func() time.Time
	sleep retry.SleepFunc
}

// Option tweaks a Client after construction.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithSleep replaces the wait between batches.
func WithSleep(s retry.SleepFunc) Option {
	return func(cl *Client) { cl.sleep = s }
}

// WithLimiter replaces the request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cookie api key is required")
	}
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultBaseURL), "/"),
		http:       httpjson.NewClient(15 * time.Second),
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		maxResults: cfg.MaxResults,
		lookback:   cfg.Lookback,
		now:        time.Now,
		sleep:      retry.Sleep,
	}
	perMinute := cfg.RateLimit
	if perMinute <= 0 {
		perMinute = DefaultRateLimit
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.batchDelay <= 0 {
		c.batchDelay = DefaultBatchDelay
	}
	if c.maxResults <= 0 {
		c.maxResults = DefaultMaxResults
	}
	if c.lookback <= 0 {
		c.lookback = DefaultLookback
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type apiTweet struct {
	Text                  string    `json:"text"`
	AuthorUsername        string    `json:"authorUsername"`
	CreatedAt             time.Time `json:"createdAt"`
	LikesCount            int       `json:"likesCount"`
	RetweetsCount         int       `json:"retweetsCount"`
	RepliesCount          int       `json:"repliesCount"`
	ImpressionsCount      int       `json:"impressionsCount"`
	SmartEngagementPoints int       `json:"smartEngagementPoints"`
	MatchingScore         float64   `json:"matchingScore"`
}

type searchResponse struct {
	OK      []apiTweet `json:"ok"`
	Success bool       `json:"success"`
	Error   any        `json:"error"`
}

// SearchTweets returns tweets matching query posted within the lookback window.
func (c *Client) SearchTweets(ctx context.Context, query string, maxResults int) ([]domain.Tweet, error) {
	if maxResults <= 0 {
		maxResults = c.maxResults
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "cookie rate limit")
	}

	to := c.now().UTC()
	from := to.Add(-c.lookback)
	params := url.Values{}
	params.Set("from", from.Format(time.RFC3339))
	params.Set("to", to.Format(time.RFC3339))
	params.Set("max_results", strconv.Itoa(maxResults))

	u := c.baseURL + searchPath + url.PathEscape(query) + "?" + params.Encode()
	headers := map[string]string{"x-api-key": c.apiKey}

	var resp searchResponse
	if err := httpjson.Get(ctx, c.http, service, u, headers, &resp); err != nil {
		return nil, errors.Wrapf(err, "search tweets %q", query)
	}

	tweets := make([]domain.Tweet, 0, len(resp.OK))
	for _, t := range resp.OK {
		tweets = append(tweets, domain.Tweet{
			Text:          t.Text,
			Author:        t.AuthorUsername,
			CreatedAt:     t.CreatedAt,
			Likes:         t.LikesCount,
			Retweets:      t.RetweetsCount,
			Replies:       t.RepliesCount,
			Impressions:   t.ImpressionsCount,
			SmartEngagers: t.SmartEngagementPoints,
			MatchingQuery: query,
		})
	}
	return tweets, nil
}

// SearchMany runs queries in batches of batchSize, concurrently within a
// batch, waiting batchDelay between batches. A failing query is recorded in
// Errors and does not stop the others; the returned error is only set when
// ctx ends.
func (c *Client) SearchMany(ctx context.Context, queries []string, maxResults int) (*domain.SocialResults, error) {
	res := &domain.SocialResults{
		Tweets: make(map[string][]domain.Tweet, len(queries)),
		Errors: make(map[string]error),
	}
	var mu sync.Mutex
	for start := 0; start < len(queries); start += c.batchSize {
		end := min(start+c.batchSize, len(queries))

		var g errgroup.Group
		for _, q := range queries[start:end] {
			q := q
			g.Go(func() error {
				tweets, err := c.SearchTweets(ctx, q, maxResults)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Errors[q] = err
				} else {
					res.Tweets[q] = tweets
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if end < len(queries) {
			if err := c.sleep(ctx, c.batchDelay); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}
