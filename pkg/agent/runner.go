package agent

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/adapters/birdeye"
	"github.com/cookfi/cookfi-agent/internal/adapters/chain"
	"github.com/cookfi/cookfi-agent/internal/adapters/coinmarketcap"
	"github.com/cookfi/cookfi-agent/internal/adapters/cookie"
	"github.com/cookfi/cookfi-agent/internal/adapters/dexscreener"
	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/adapters/llm"
	"github.com/cookfi/cookfi-agent/internal/adapters/moralis"
	"github.com/cookfi/cookfi-agent/internal/adapters/notify"
	"github.com/cookfi/cookfi-agent/internal/config"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/core/service"
	"github.com/cookfi/cookfi-agent/internal/observability"
	"github.com/cookfi/cookfi-agent/pkg/cache"
	"github.com/cookfi/cookfi-agent/pkg/journal"
	"github.com/cookfi/cookfi-agent/pkg/version"
)

// ErrNoWallet is returned by wallet operations when no signing key is configured.
var ErrNoWallet = errors.New("no solana private key configured")

// trendingTTL keeps boosted lists between back-to-back cycles.
const trendingTTL = 2 * time.Minute

// Runner wires the trading workflow and its supporting services.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	cache   cache.AgentCache
	journal *journal.Journal

	dex       *dexscreener.DexScreenerService
	solana    *chain.SolanaSwapper
	portfolio *service.PortfolioSource
	universe  *coinmarketcap.UniverseSource
	scheduler *service.UniverseScheduler
	workflow  *service.Workflow
	calc      domain.PnLCalculator

	stopTimeout time.Duration

	// started is the unix nano start time, read without mu by status.
	started atomic.Int64

	mu      sync.Mutex
	running bool
	control *ControlServer
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*options)

type options struct {
	httpClient  *http.Client
	chatClient  llm.ChatClient
	sender      notify.Sender
	stopTimeout time.Duration
}

// WithHTTPClient replaces the client used by the REST adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithChatClient replaces the OpenAI client.
func WithChatClient(c llm.ChatClient) Option {
	return func(o *options) { o.chatClient = c }
}

// WithAlertSender replaces the Telegram bot.
func WithAlertSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithStopTimeout bounds how long Stop waits for a cycle in progress.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// New validates cfg and builds every component. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{
		httpClient:  httpjson.NewClient(20 * time.Second),
		stopTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runner{
		cfg:         cfg,
		logger:      logger.Named("runner"),
		metrics:     observability.NewMetrics("cookfi"),
		calc:        service.NewPnLCalculator(),
		stopTimeout: o.stopTimeout,
	}
	r.cache = newCache(cfg.Redis, r.logger)

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		_ = r.cache.Close()
		return nil, err
	}
	r.journal = j

	if err := r.wire(o, logger); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func newCache(cfg config.RedisConfig, logger *zap.Logger) cache.AgentCache {
	if !cfg.Enabled {
		return cache.NewMemoryCache()
	}
	logger.Info("🗄️  Initializing Redis cache", zap.String("address", cfg.Address))
	rc, err := cache.NewRedisCache(&cache.RedisConfig{
		Address:   cfg.Address,
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		UseTLS:    cfg.UseTLS,
	})
	if err != nil {
		logger.Warn("⚠️  Failed to initialize Redis cache, using memory", zap.Error(err))
		return cache.NewMemoryCache()
	}
	return rc
}

func (r *Runner) wire(o options, logger *zap.Logger) error {
	cfg := r.cfg

	r.dex = dexscreener.NewDexScreenerService(
		dexscreener.WithBaseURL(cfg.DexScreener.BaseURL),
		dexscreener.WithHTTPClient(o.httpClient),
	)

	social, err := cookie.New(cookie.Config{
		APIKey:     cfg.Cookie.APIKey,
		BaseURL:    cfg.Cookie.BaseURL,
		RateLimit:  cfg.Cookie.RateLimit,
		BatchSize:  cfg.Cookie.BatchSize,
		BatchDelay: cfg.Cookie.BatchDelay,
		MaxResults: cfg.Cookie.MaxResults,
		Lookback:   cfg.Cookie.Lookback,
	}, cookie.WithHTTPClient(o.httpClient))
	if err != nil {
		return err
	}

	llmCfg := llm.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		SmallModel:  cfg.OpenAI.SmallModel,
		Temperature: cfg.OpenAI.Temperature,
	}
	chat := o.chatClient
	if chat == nil {
		chat = llm.NewClient(llmCfg)
	}
	prompts, err := llm.DefaultPrompts()
	if err != nil {
		return errors.Wrap(err, "load prompts")
	}
	decider := llm.NewDecisionMaker(chat, llmCfg, prompts, logger)
	writer := llm.NewAlertWriter(chat, llmCfg, prompts, logger)

	sender, err := r.newNotifier(o, logger)
	if err != nil {
		return err
	}

	swappers, err := r.newSwappers(logger)
	if err != nil {
		return err
	}

	sources, err := r.newSources(o, logger)
	if err != nil {
		return err
	}

	discovery := service.NewDiscovery(sources, cfg.Agent.MaxTokens, logger, r.metrics)
	analyzer := service.NewAnalyzer(r.dex, social, logger, r.metrics,
		service.WithMaxTweets(cfg.Cookie.MaxResults),
		service.WithConcurrency(cfg.Agent.AnalysisConcurrency),
	)
	executor := service.NewExecutor(executionConfig(cfg), swappers, r.journal, logger, r.metrics)
	notifier := service.NewTradeNotifier(writer, sender, r.journal, r.calc, logger, r.metrics)

	r.workflow = service.NewWorkflow(discovery, analyzer, decider, executor,
		service.WorkflowConfig{
			Interval:          cfg.Agent.Interval,
			ErrorInterval:     cfg.Agent.ErrorInterval,
			DecideConcurrency: cfg.Agent.DecideConcurrency,
		},
		service.WithWorkflowLogger(logger),
		service.WithWorkflowMetrics(r.metrics),
		service.WithAlerter(&afterTrades{portfolio: r.portfolio, next: notifier}),
	)
	return nil
}

func executionConfig(cfg *config.Config) service.ExecutionConfig {
	ec := service.ExecutionConfig{
		MinConfidence: cfg.Trading.MinConfidence,
		MaxConfidence: cfg.Trading.MaxConfidence,
		MinBuyAmount:  cfg.Trading.MinBuyAmount,
		MaxBuyAmount:  cfg.Trading.MaxBuyAmount,
		DryRun:        cfg.Agent.DryRun,
	}
	if cfg.Mantle.Enabled {
		ec.ChainBounds = map[string]service.BuyBounds{
			domain.ChainMantle: {Min: cfg.Mantle.MinBuyAmount, Max: cfg.Mantle.MaxBuyAmount},
		}
	}
	return ec
}

func (r *Runner) newNotifier(o options, logger *zap.Logger) (domain.Notifier, error) {
	tg := r.cfg.Telegram
	if o.sender != nil {
		return notify.NewTelegramWithSender(o.sender, tg.ChatID, logger), nil
	}
	// Without Telegram alerts are still rendered and logged.
	dryRun := !tg.Enabled || tg.DryRun || r.cfg.Agent.DryRun
	return notify.NewTelegram(notify.Config{BotToken: tg.BotToken, ChatID: tg.ChatID, DryRun: dryRun}, logger)
}

func (r *Runner) newSwappers(logger *zap.Logger) ([]domain.Swapper, error) {
	cfg := r.cfg
	var swappers []domain.Swapper

	if cfg.Solana.PrivateKey != "" {
		wsURL := cfg.Solana.WSURL
		if wsURL == "" {
			wsURL = chain.WSEndpoint(cfg.Solana.RPCURL)
		}
		sol, err := chain.NewSolanaSwapper(
			chain.NewSolanaClient(cfg.Solana.RPCURL),
			chain.NewJupiterClient(cfg.Solana.JupiterURL, httpjson.NewClient(20*time.Second)),
			cfg.Solana.PrivateKey,
			chain.NewWSConfirmer(wsURL),
			r.journal,
			swapPolicy(cfg.Solana.Swap),
			chain.WithSolanaLogger(logger),
			chain.WithSolanaMetrics(r.metrics),
			chain.WithConfirmTimeout(cfg.Solana.ConfirmTimeout),
		)
		if err != nil {
			return nil, err
		}
		if sol.Address() != cfg.Solana.PublicKey {
			r.logger.Warn("⚠️ solana.public_key does not match the private key",
				zap.String("configured", cfg.Solana.PublicKey),
				zap.String("derived", sol.Address()),
			)
		}
		r.solana = sol
		swappers = append(swappers, sol)
	} else {
		r.logger.Info("no solana private key, swaps disabled")
	}

	if cfg.Mantle.Enabled && cfg.Mantle.PrivateKey != "" {
		ec, err := chain.DialMantle(cfg.Mantle.RPCURL)
		if err != nil {
			return nil, err
		}
		mnt, err := chain.NewMantleSwapper(
			ec,
			chain.NewLiFiClient(cfg.Mantle.LiFiURL, httpjson.NewClient(20*time.Second)),
			cfg.Mantle.PrivateKey,
			cfg.Mantle.ChainID,
			r.journal,
			swapPolicy(cfg.Mantle.Swap),
			chain.WithMantleLogger(logger),
			chain.WithMantleMetrics(r.metrics),
		)
		if err != nil {
			return nil, err
		}
		swappers = append(swappers, mnt)
	}
	return swappers, nil
}

func swapPolicy(p config.SwapPolicy) chain.SwapPolicy {
	return chain.SwapPolicy{
		Slippage:    p.Slippage,
		MaxSlippage: p.MaxSlippage,
		MaxAttempts: p.MaxAttempts,
		RetryDelay:  p.RetryDelay,
	}
}

// newSources returns the discovery sources, portfolio first so that merged
// duplicates keep their balance.
func (r *Runner) newSources(o options, logger *zap.Logger) ([]domain.TokenSource, error) {
	cfg := r.cfg
	var sources []domain.TokenSource

	var provider domain.PortfolioProvider
	switch cfg.Portfolio.Provider {
	case "moralis":
		c, err := moralis.New(cfg.Portfolio.MoralisAPIKey, cfg.Portfolio.MoralisURL, o.httpClient)
		if err != nil {
			return nil, err
		}
		provider = c
	case "birdeye":
		c, err := birdeye.New(cfg.Portfolio.BirdeyeAPIKey, cfg.Portfolio.BirdeyeURL, o.httpClient)
		if err != nil {
			return nil, err
		}
		provider = c
	}
	if provider != nil {
		r.portfolio = service.NewPortfolioSource(provider, cfg.Solana.PublicKey, r.cache, cfg.Portfolio.CacheTTL, logger)
		sources = append(sources, r.portfolio)
	}

	for _, kind := range cfg.DexScreener.Sources {
		trending := dexscreener.NewTrendingSource(r.dex, kind, cfg.DexScreener.ChainID, 0)
		sources = append(sources, service.NewCachedSource(trending, r.cache, trendingTTL, logger))
	}

	if cfg.CMC.Enabled {
		cmc, err := coinmarketcap.New(coinmarketcap.Config{
			APIKey:    cfg.CMC.APIKey,
			BaseURL:   cfg.CMC.BaseURL,
			Tag:       cfg.CMC.Tag,
			ChainName: cfg.CMC.ChainName,
			ChainID:   cfg.DexScreener.ChainID,
			PageSize:  cfg.CMC.PageSize,
			MaxPages:  cfg.CMC.MaxPages,
			PageDelay: cfg.CMC.PageDelay,
			InfoBatch: cfg.CMC.InfoBatch,
			InfoDelay: cfg.CMC.InfoDelay,
		}, coinmarketcap.WithHTTPClient(o.httpClient), coinmarketcap.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		r.universe = coinmarketcap.NewUniverseSource(cmc, r.cache, logger)
		r.scheduler = service.NewUniverseScheduler(r.universe, cfg.CMC.Schedule, logger)
		sources = append(sources, r.universe)
	}
	return sources, nil
}

// afterTrades drops the cached holdings once trades went through, then
// sends the alerts.
type afterTrades struct {
	portfolio *service.PortfolioSource
	next      service.TradeAlerter
}

func (a *afterTrades) NotifyTrades(ctx context.Context, outcomes []domain.TradeOutcome) int {
	if a.portfolio != nil {
		a.portfolio.Invalidate(ctx)
	}
	return a.next.NotifyTrades(ctx, outcomes)
}

// Start launches the universe refresh, the control server and the
// trading loop.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return domain.ErrAlreadyRunning
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.started.Store(time.Now().UnixNano())

	r.logger.Info("🚀 Starting agent",
		zap.String("name", r.cfg.Agent.Name),
		zap.String("version", version.Version()),
		zap.String("wallet", r.cfg.Solana.PublicKey),
		zap.Bool("dry_run", r.cfg.Agent.DryRun),
	)
	r.reportPending()
	if n, err := r.journal.CleanupOld(r.cfg.Journal.Retention); err != nil {
		r.logger.Warn("journal cleanup failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("journal cleaned", zap.Int("removed", n))
	}

	if r.scheduler != nil {
		if err := r.scheduler.Start(r.ctx, true); err != nil {
			r.cancel()
			return err
		}
	}

	if r.cfg.Control.Addr != "" {
		r.control = NewControlServer(r.ctx, r.workflow, r.metrics.Handler(), r.cfg.Control.JWTSecret, r.status, r.logger)
		if err := r.control.ListenAndServe(r.cfg.Control.Addr); err != nil {
			r.stopBackground()
			return err
		}
	}

	if err := r.workflow.Start(r.ctx); err != nil {
		r.stopBackground()
		return err
	}

	r.running = true
	r.logger.Info("✅ Agent started")
	return nil
}

func (r *Runner) stopBackground() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.control.Shutdown(ctx); err != nil {
			r.logger.Warn("⚠️ Error stopping control server", zap.Error(err))
		}
		cancel()
		r.control = nil
	}
	r.cancel()
}

// Stop ends the loop, waiting up to the stop timeout for a cycle in
// progress before cancelling it. Stop is idempotent.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.logger.Info("🛑 Stopping agent")
	r.running = false

	r.workflow.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
	err := r.workflow.Wait(waitCtx)
	cancel()
	if err != nil {
		r.logger.Warn("⚠️ Cycle still running, cancelling it")
		r.cancel()
		waitCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		err = r.workflow.Wait(waitCtx)
		cancel()
	}
	r.stopBackground()

	r.logger.Info("✅ Agent stopped", zap.Duration("uptime", r.uptime()))
	return err
}

// Close releases the journal and the cache.
func (r *Runner) Close() error {
	var err error
	if r.cache != nil {
		if cerr := r.cache.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrap(cerr, "close cache"))
		}
	}
	if r.journal != nil {
		if jerr := r.journal.Close(); jerr != nil {
			err = multierr.Append(err, errors.Wrap(jerr, "close journal"))
		}
	}
	return err
}

// Run starts the agent and blocks until SIGINT, SIGTERM or ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return multierr.Combine(err, r.Close())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		r.logger.Info("📡 Received signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	stopErr := r.Stop()
	return multierr.Combine(stopErr, r.Close())
}

// RunOnce runs a single cycle. The CoinMarketCap universe is refreshed
// first when it is enabled and not cached yet.
func (r *Runner) RunOnce(ctx context.Context) (*service.CycleReport, error) {
	r.reportPending()
	if r.universe != nil {
		tokens, err := r.universe.Tokens(ctx)
		if err == nil && len(tokens) == 0 {
			if _, err := r.universe.Refresh(ctx); err != nil {
				r.logger.Warn("universe refresh failed", zap.Error(err))
			}
		}
	}
	return r.workflow.RunCycle(ctx)
}

func (r *Runner) reportPending() {
	pending, err := r.journal.Pending()
	if err != nil {
		r.logger.Warn("read pending swaps failed", zap.Error(err))
		return
	}
	for _, rec := range pending {
		r.logger.Warn("⚠️ Swap with unknown outcome",
			zap.String("id", rec.ID),
			zap.String("state", rec.State),
			zap.String("chain", rec.Chain),
			zap.String("signature", rec.Signature),
			zap.Time("created_at", rec.CreatedAt),
		)
	}
}

func (r *Runner) status() Status {
	st := Status{
		Name:    r.cfg.Agent.Name,
		Version: version.Version(),
		Wallet:  r.cfg.Solana.PublicKey,
		DryRun:  r.cfg.Agent.DryRun,
	}
	if r.started.Load() != 0 {
		st.Uptime = r.uptime().String()
	}
	if pending, err := r.journal.Pending(); err == nil {
		st.Pending = len(pending)
	}
	return st
}

func (r *Runner) uptime() time.Duration {
	return time.Since(time.Unix(0, r.started.Load())).Round(time.Second)
}

// IsRunning returns whether the agent is currently running
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ControlAddr is the bound control server address while running.
func (r *Runner) ControlAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.control == nil {
		return ""
	}
	return r.control.Addr()
}

func (r *Runner) Workflow() *service.Workflow { return r.workflow }

func (r *Runner) Journal() *journal.Journal { return r.journal }

func (r *Runner) Metrics() *observability.Metrics { return r.metrics }

// Positions ranks the ledger's tokens by PnL at current DexScreener prices.
func (r *Runner) Positions(ctx context.Context) ([]domain.WalletPnL, error) {
	return service.Positions(ctx, r.journal, r.dex, r.calc, r.cfg.DexScreener.ChainID)
}

// Wallet returns the Solana swapper for transfers and staking.
func (r *Runner) Wallet() (*chain.SolanaSwapper, error) {
	if r.solana == nil {
		return nil, ErrNoWallet
	}
	return r.solana, nil
}
