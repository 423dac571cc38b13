// Package config loads agent settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. COOKFI_SOLANA_RPC_URL.
const EnvPrefix = "COOKFI"

type Config struct {
	Agent       AgentConfig       `mapstructure:"agent"`
	Log         LogConfig         `mapstructure:"log"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Solana      SolanaConfig      `mapstructure:"solana"`
	Mantle      MantleConfig      `mapstructure:"mantle"`
	Cookie      CookieConfig      `mapstructure:"cookie"`
	DexScreener DexScreenerConfig `mapstructure:"dexscreener"`
	CMC         CMCConfig         `mapstructure:"cmc"`
	Portfolio   PortfolioConfig   `mapstructure:"portfolio"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Control     ControlConfig     `mapstructure:"control"`
}

type AgentConfig struct {
	Name          string        `mapstructure:"name"`
	DryRun        bool          `mapstructure:"dry_run"`
	Interval      time.Duration `mapstructure:"interval"`
	ErrorInterval time.Duration `mapstructure:"error_interval"`

	// MaxTokens caps the candidates analysed per cycle; zero means no cap.
	MaxTokens int `mapstructure:"max_tokens"`

	// AnalysisConcurrency and DecideConcurrency cap the tokens analysed and
	// decided at once; zero means no cap.
	AnalysisConcurrency int `mapstructure:"analysis_concurrency"`
	DecideConcurrency   int `mapstructure:"decide_concurrency"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TradingConfig holds the confidence gate and the Solana buy sizing bounds,
// in SOL.
type TradingConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	MaxConfidence float64 `mapstructure:"max_confidence"`
	MinBuyAmount  float64 `mapstructure:"min_buy_amount"`
	MaxBuyAmount  float64 `mapstructure:"max_buy_amount"`
}

// SwapPolicy is the slippage retry policy of a chain. Slippage values are percent.
type SwapPolicy struct {
	Slippage    float64       `mapstructure:"slippage"`
	MaxSlippage float64       `mapstructure:"max_slippage"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	WSURL          string        `mapstructure:"ws_url"`
	PublicKey      string        `mapstructure:"public_key"`
	PrivateKey     string        `mapstructure:"private_key"`
	JupiterURL     string        `mapstructure:"jupiter_url"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	Swap           SwapPolicy    `mapstructure:"swap"`
}

type MantleConfig struct {
	Enabled    bool       `mapstructure:"enabled"`
	RPCURL     string     `mapstructure:"rpc_url"`
	PrivateKey string     `mapstructure:"private_key"`
	ChainID    int64      `mapstructure:"chain_id"`
	LiFiURL    string     `mapstructure:"lifi_url"`
	Swap       SwapPolicy `mapstructure:"swap"`

	// Buy sizing bounds in MNT.
	MinBuyAmount float64 `mapstructure:"min_buy_amount"`
	MaxBuyAmount float64 `mapstructure:"max_buy_amount"`
}

type CookieConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	RateLimit  int           `mapstructure:"rate_limit"` // requests per minute
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	MaxResults int           `mapstructure:"max_results"`
	Lookback   time.Duration `mapstructure:"lookback"`
}

type DexScreenerConfig struct {
	BaseURL string   `mapstructure:"base_url"`
	Sources []string `mapstructure:"sources"` // top, latest
	ChainID string   `mapstructure:"chain_id"`
}

type CMCConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Tag       string        `mapstructure:"tag"`
	ChainName string        `mapstructure:"chain_name"`
	Schedule  string        `mapstructure:"schedule"`
	PageSize  int           `mapstructure:"page_size"`
	MaxPages  int           `mapstructure:"max_pages"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	InfoBatch int           `mapstructure:"info_batch"`
	InfoDelay time.Duration `mapstructure:"info_delay"`
}

type PortfolioConfig struct {
	Provider      string        `mapstructure:"provider"` // moralis, birdeye or none
	MoralisAPIKey string        `mapstructure:"moralis_api_key"`
	MoralisURL    string        `mapstructure:"moralis_url"`
	BirdeyeAPIKey string        `mapstructure:"birdeye_api_key"`
	BirdeyeURL    string        `mapstructure:"birdeye_url"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	SmallModel  string  `mapstructure:"small_model"`
	Temperature float32 `mapstructure:"temperature"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	DryRun   bool   `mapstructure:"dry_run"`
}

// RedisConfig mirrors the options accepted by cache.NewRedisCache.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	UseTLS    bool   `mapstructure:"use_tls"`
}

type JournalConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type ControlConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"agent.name":           "cookfi",
		"agent.dry_run":        false,
		"agent.interval":       5 * time.Minute,
		"agent.error_interval": 30 * time.Second,
		"agent.max_tokens":     0,

		"agent.analysis_concurrency": 8,
		"agent.decide_concurrency":   4,

		"log.level":        "info",
		"log.format":       "json",
		"log.file":         "",
		"log.max_size_mb":  100,
		"log.max_backups":  5,
		"log.max_age_days": 14,

		"trading.min_confidence": 80.0,
		"trading.max_confidence": 100.0,
		"trading.min_buy_amount": 0.01,
		"trading.max_buy_amount": 0.1,

		"solana.rpc_url":           "https://api.mainnet-beta.solana.com",
		"solana.ws_url":            "",
		"solana.public_key":        "",
		"solana.private_key":       "",
		"solana.jupiter_url":       "https://lite-api.jup.ag/swap/v1",
		"solana.confirm_timeout":   60 * time.Second,
		"solana.swap.slippage":     3.0,
		"solana.swap.max_slippage": 30.0,
		"solana.swap.max_attempts": 10,
		"solana.swap.retry_delay":  time.Second,

		"mantle.enabled":           false,
		"mantle.rpc_url":           "https://rpc.mantle.xyz",
		"mantle.private_key":       "",
		"mantle.chain_id":          5000,
		"mantle.lifi_url":          "https://li.quest/v1",
		"mantle.swap.slippage":     1.0,
		"mantle.swap.max_slippage": 30.0,
		"mantle.swap.max_attempts": 5,
		"mantle.swap.retry_delay":  5 * time.Second,
		"mantle.min_buy_amount":    2.0,
		"mantle.max_buy_amount":    20.0,

		"cookie.api_key":     "",
		"cookie.base_url":    "https://api.cookie.fun",
		"cookie.rate_limit":  60,
		"cookie.batch_size":  3,
		"cookie.batch_delay": 20 * time.Second,
		"cookie.max_results": 10,
		"cookie.lookback":    72 * time.Hour,

		"dexscreener.base_url": "https://api.dexscreener.com",
		"dexscreener.sources":  []string{"top"},
		"dexscreener.chain_id": "solana",

		"cmc.enabled":    false,
		"cmc.api_key":    "",
		"cmc.base_url":   "https://pro-api.coinmarketcap.com",
		"cmc.tag":        "ai-big-data",
		"cmc.chain_name": "Solana",
		"cmc.schedule":   "0 3 * * *",
		"cmc.page_size":  1000,
		"cmc.max_pages":  5,
		"cmc.page_delay": 5 * time.Second,
		"cmc.info_batch": 40,
		"cmc.info_delay": 500 * time.Millisecond,

		"portfolio.provider":        "moralis",
		"portfolio.moralis_api_key": "",
		"portfolio.moralis_url":     "https://solana-gateway.moralis.io",
		"portfolio.birdeye_api_key": "",
		"portfolio.birdeye_url":     "https://public-api.birdeye.so",
		"portfolio.cache_ttl":       5 * time.Minute,

		"openai.api_key":     "",
		"openai.base_url":    "",
		"openai.model":       "gpt-4o",
		"openai.small_model": "gpt-4o-mini",
		"openai.temperature": 0.2,

		"telegram.enabled":   false,
		"telegram.bot_token": "",
		"telegram.chat_id":   0,
		"telegram.dry_run":   false,

		"redis.enabled":    false,
		"redis.address":    "localhost:6379",
		"redis.username":   "",
		"redis.password":   "",
		"redis.db":         0,
		"redis.key_prefix": "cookfi:",
		"redis.use_tls":    false,

		"journal.path":      "cookfi-journal.db",
		"journal.retention": 30 * 24 * time.Hour,

		"control.addr":       ":8090",
		"control.jwt_secret": "",
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// aliases binds variable names used by earlier deployments of the plugin.
var aliases = map[string][]string{
	"openai.api_key":            {"COOKFI_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"cmc.api_key":               {"COOKFI_CMC_API_KEY", "COOKFI_TOPWALLETS_API_KEY"},
	"portfolio.moralis_api_key": {"COOKFI_PORTFOLIO_MORALIS_API_KEY", "COOKFI_MORALIS_API_KEY"},
	"portfolio.birdeye_api_key": {"COOKFI_PORTFOLIO_BIRDEYE_API_KEY", "COOKFI_BIRDEYE_API_KEY"},
	"telegram.bot_token":        {"COOKFI_TELEGRAM_BOT_TOKEN", "TELEGRAM_BOT_TOKEN"},
}

// Load reads .env (if present), the config file at path (if non-empty) and
// COOKFI_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// Validate reports every missing or inconsistent setting in one error.
func (c *Config) Validate() error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	require(c.Cookie.APIKey != "", "cookie.api_key is required")
	require(c.OpenAI.APIKey != "", "openai.api_key is required")
	require(c.Solana.RPCURL != "", "solana.rpc_url is required")
	require(c.Solana.PublicKey != "", "solana.public_key is required")
	require(c.Agent.DryRun || c.Solana.PrivateKey != "", "solana.private_key is required unless agent.dry_run is set")
	require(c.Agent.Interval > 0, "agent.interval must be positive")
	require(c.Agent.ErrorInterval > 0, "agent.error_interval must be positive")
	require(c.Agent.AnalysisConcurrency >= 0, "agent.analysis_concurrency must not be negative")
	require(c.Agent.DecideConcurrency >= 0, "agent.decide_concurrency must not be negative")

	require(c.Trading.MinConfidence >= 0 && c.Trading.MaxConfidence <= 100, "trading confidence bounds must be within 0..100")
	require(c.Trading.MinConfidence < c.Trading.MaxConfidence, "trading.min_confidence must be below trading.max_confidence")
	require(c.Trading.MinBuyAmount > 0, "trading.min_buy_amount must be positive")
	require(c.Trading.MinBuyAmount <= c.Trading.MaxBuyAmount, "trading.min_buy_amount must not exceed trading.max_buy_amount")

	problems = append(problems, c.Solana.Swap.problems("solana.swap")...)

	if c.Mantle.Enabled {
		require(c.Mantle.RPCURL != "", "mantle.rpc_url is required when mantle is enabled")
		require(c.Agent.DryRun || c.Mantle.PrivateKey != "", "mantle.private_key is required when mantle is enabled")
		require(c.Mantle.MinBuyAmount > 0, "mantle.min_buy_amount must be positive")
		require(c.Mantle.MinBuyAmount <= c.Mantle.MaxBuyAmount, "mantle.min_buy_amount must not exceed mantle.max_buy_amount")
		problems = append(problems, c.Mantle.Swap.problems("mantle.swap")...)
	}

	switch c.Portfolio.Provider {
	case "moralis":
		require(c.Portfolio.MoralisAPIKey != "", "portfolio.moralis_api_key is required for the moralis provider")
	case "birdeye":
		require(c.Portfolio.BirdeyeAPIKey != "", "portfolio.birdeye_api_key is required for the birdeye provider")
	case "", "none":
	default:
		problems = append(problems, "portfolio.provider must be moralis, birdeye or none")
	}

	if c.CMC.Enabled {
		require(c.CMC.APIKey != "", "cmc.api_key is required when cmc is enabled")
	}
	if c.Telegram.Enabled {
		require(c.Telegram.BotToken != "", "telegram.bot_token is required when telegram is enabled")
		require(c.Telegram.ChatID != 0, "telegram.chat_id is required when telegram is enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}

func (p SwapPolicy) problems(prefix string) []string {
	var out []string
	if p.MaxAttempts < 1 || p.MaxAttempts > 20 {
		out = append(out, prefix+".max_attempts must be within 1..20")
	}
	if p.Slippage <= 0 {
		out = append(out, prefix+".slippage must be positive")
	}
	if p.MaxSlippage < p.Slippage {
		out = append(out, prefix+".max_slippage must not be below "+prefix+".slippage")
	}
	if p.RetryDelay < 0 {
		out = append(out, prefix+".retry_delay must not be negative")
	}
	return out
}
