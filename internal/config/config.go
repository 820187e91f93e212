// Package config defines all configuration for the trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// credentials supplied via environment variables (optionally from a .env
// file). Secrets never appear in String() output.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hantu-quant/pkg/types"
)

// Broker hosts per environment. The port is part of the KIS contract.
const (
	PaperRESTBase = "https://openapivts.koreainvestment.com:29443"
	LiveRESTBase  = "https://openapi.koreainvestment.com:9443"
	PaperWSBase   = "ws://ops.koreainvestment.com:31000"
	LiveWSBase    = "ws://ops.koreainvestment.com:21000"
)

// Credentials identifies the account against the broker API.
// Immutable after Load.
type Credentials struct {
	AppKey             string
	AppSecret          string
	AccountNumber      string
	AccountProductCode string
	Server             types.Server
}

// SafeString returns a loggable representation with secrets masked.
func (c Credentials) SafeString() string {
	return fmt.Sprintf("Credentials{app_key: ***, app_secret: ***, account: %s-%s, server: %s}",
		maskAccount(c.AccountNumber), c.AccountProductCode, c.Server)
}

// String masks secrets so accidental %v formatting never leaks them.
func (c Credentials) String() string { return c.SafeString() }

func maskAccount(acct string) string {
	if len(acct) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(acct)-4) + acct[len(acct)-4:]
}

// RESTBase returns the REST host for the configured server.
func (c Credentials) RESTBase() string {
	if c.Server == types.Live {
		return LiveRESTBase
	}
	return PaperRESTBase
}

// WSBase returns the realtime host for the configured server.
func (c Credentials) WSBase() string {
	if c.Server == types.Live {
		return LiveWSBase
	}
	return PaperWSBase
}

// ClientConfig tunes the REST client.
type ClientConfig struct {
	RateLimitPerSec int           `mapstructure:"rate_limit_per_sec"` // 0 = server default
	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// RetryableCodes are business rt_cd=1 msg_cd values treated as transient.
	// EGW00201 (gateway rate limit) always retries with a 10s backoff and does
	// not need to be listed. Paper and live differ, so this stays configurable.
	RetryableCodes []string `mapstructure:"retryable_codes"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	RedisURL   string        `mapstructure:"redis_url"` // empty = LRU only
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	ChartTTL   time.Duration `mapstructure:"chart_ttl"` // daily chart read-through
}

// LiquidityFilter is the hard pre-filter on tradeability. Values are KRW
// and shares; a candidate must pass every threshold.
type LiquidityFilter struct {
	MinTradingValue float64 `mapstructure:"min_trading_value"` // 20d mean of close×volume
	MinMarketCap    float64 `mapstructure:"min_market_cap"`
	MinPrice        float64 `mapstructure:"min_price"`
	MinVolume       float64 `mapstructure:"min_volume"` // 20d mean shares
}

// MomentumConfig tunes the scoring stage.
type MomentumConfig struct {
	LookbackDays       int     `mapstructure:"lookback_days"`        // daily chart depth
	TopPercentile      float64 `mapstructure:"top_percentile"`       // (0,1] share of scored set
	SectorLimit        int     `mapstructure:"sector_limit"`         // max names per sector
	NeutralSectorScore float64 `mapstructure:"neutral_sector_score"` // unknown sector ETF fallback
}

// PositionSizingConfig tunes the volatility-parity sizer.
type PositionSizingConfig struct {
	TargetDailyVol        float64 `mapstructure:"target_daily_vol"` // e.g. 0.02
	MinPositionPct        float64 `mapstructure:"min_position_pct"`
	MaxPositionPct        float64 `mapstructure:"max_position_pct"`
	StopLossATR           float64 `mapstructure:"stop_loss_atr"`
	TakeProfitATR         float64 `mapstructure:"take_profit_atr"`
	TrailingATR           float64 `mapstructure:"trailing_atr"`
	TrailingActivationPct float64 `mapstructure:"trailing_activation_pct"` // percent return
	CashBufferPct         float64 `mapstructure:"cash_buffer_pct"`         // kept out of Σ weights
}

// SellConfig tunes the exit signal set.
type SellConfig struct {
	TakeProfitLevels []float64 `mapstructure:"take_profit_levels"` // percent returns, ascending
	PartialRatios    []float64 `mapstructure:"partial_ratios"`     // sell ratio per level
	RSIOverbought    float64   `mapstructure:"rsi_overbought"`
	MaxHoldDays      int       `mapstructure:"max_hold_days"`
	MinStrength      float64   `mapstructure:"min_strength"`   // non-urgent gate
	MinConfidence    float64   `mapstructure:"min_confidence"` // non-urgent gate
	MaxDailyTrades   int       `mapstructure:"max_daily_trades"`
}

// RegimeOverride carries the per-regime parameter overrides.
type RegimeOverride struct {
	MaxStocks      int     `mapstructure:"max_stocks"`
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
	StopLossATR    float64 `mapstructure:"stop_loss_atr"`
}

// RegimeConfig maps each market regime to its overrides.
type RegimeConfig struct {
	Bull     RegimeOverride `mapstructure:"bull"`
	Bear     RegimeOverride `mapstructure:"bear"`
	Sideways RegimeOverride `mapstructure:"sideways"`
	HighVol  RegimeOverride `mapstructure:"high_vol"`
}

// Overrides returns the override block for a regime.
func (r RegimeConfig) Overrides(regime types.Regime) RegimeOverride {
	switch regime {
	case types.RegimeBull:
		return r.Bull
	case types.RegimeBear:
		return r.Bear
	case types.RegimeHighVol:
		return r.HighVol
	default:
		return r.Sideways
	}
}

// QuantConfig groups the strategy parameters that vary by regime.
type QuantConfig struct {
	Liquidity LiquidityFilter      `mapstructure:"liquidity"`
	Momentum  MomentumConfig       `mapstructure:"momentum"`
	Sizing    PositionSizingConfig `mapstructure:"sizing"`
	Sell      SellConfig           `mapstructure:"sell"`
	Regimes   RegimeConfig         `mapstructure:"regimes"`
}

// AlertConfig tunes the rate-limited notification dispatcher.
type AlertConfig struct {
	WebhookURL  string        `mapstructure:"webhook_url"` // empty = log only
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Config is the top-level configuration.
type Config struct {
	DataDir     string        `mapstructure:"data_dir"`
	Client      ClientConfig  `mapstructure:"client"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Quant       QuantConfig   `mapstructure:"quant"`
	Alert       AlertConfig   `mapstructure:"alert"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Credentials Credentials   `mapstructure:"-"` // env only, never from YAML
}

// RateLimitPerSec resolves the effective admission rate: explicit config,
// then RATE_LIMIT_PER_SEC, then the server default (paper 5/s, live 20/s).
func (c *Config) RateLimitPerSec() int {
	if c.Client.RateLimitPerSec > 0 {
		return c.Client.RateLimitPerSec
	}
	if c.Credentials.Server == types.Live {
		return 20
	}
	return 5
}

// Load reads config from a YAML file, applies defaults, and pulls
// credentials from the environment. A .env file in the working directory is
// honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HANTU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Credentials = Credentials{
		AppKey:             os.Getenv("APP_KEY"),
		AppSecret:          os.Getenv("APP_SECRET"),
		AccountNumber:      os.Getenv("ACCOUNT_NUMBER"),
		AccountProductCode: envOr("ACCOUNT_PROD_CODE", "01"),
		Server:             types.Server(envOr("SERVER", string(types.Paper))),
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Cache.RedisURL = url
	}
	if raw := os.Getenv("RATE_LIMIT_PER_SEC"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("RATE_LIMIT_PER_SEC: invalid value %q", raw)
		}
		cfg.Client.RateLimitPerSec = n
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges. Credential problems are
// fatal at startup by design.
func (c *Config) Validate() error {
	if c.Credentials.AppKey == "" {
		return fmt.Errorf("APP_KEY is required")
	}
	if c.Credentials.AppSecret == "" {
		return fmt.Errorf("APP_SECRET is required")
	}
	if c.Credentials.AccountNumber == "" {
		return fmt.Errorf("ACCOUNT_NUMBER is required")
	}
	switch c.Credentials.Server {
	case types.Paper, types.Live:
	default:
		return fmt.Errorf("SERVER must be %q or %q, got %q", types.Paper, types.Live, c.Credentials.Server)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Quant.Momentum.TopPercentile <= 0 || c.Quant.Momentum.TopPercentile > 1 {
		return fmt.Errorf("quant.momentum.top_percentile must be in (0, 1]")
	}
	if c.Quant.Sizing.MinPositionPct > c.Quant.Sizing.MaxPositionPct {
		return fmt.Errorf("quant.sizing.min_position_pct exceeds max_position_pct")
	}
	if len(c.Quant.Sell.TakeProfitLevels) != len(c.Quant.Sell.PartialRatios) {
		return fmt.Errorf("quant.sell.take_profit_levels and partial_ratios must have equal length")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")

	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.request_timeout", 10*time.Second)
	v.SetDefault("client.retryable_codes", []string{"EGW00001", "EGW00002"})

	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.chart_ttl", 10*time.Minute)

	v.SetDefault("quant.liquidity.min_trading_value", 500_000_000.0)
	v.SetDefault("quant.liquidity.min_market_cap", 50_000_000_000.0)
	v.SetDefault("quant.liquidity.min_price", 1000.0)
	v.SetDefault("quant.liquidity.min_volume", 10_000.0)

	v.SetDefault("quant.momentum.lookback_days", 60)
	v.SetDefault("quant.momentum.top_percentile", 0.3)
	v.SetDefault("quant.momentum.sector_limit", 3)
	v.SetDefault("quant.momentum.neutral_sector_score", 50.0)

	v.SetDefault("quant.sizing.target_daily_vol", 0.02)
	v.SetDefault("quant.sizing.min_position_pct", 0.05)
	v.SetDefault("quant.sizing.max_position_pct", 0.20)
	v.SetDefault("quant.sizing.stop_loss_atr", 2.0)
	v.SetDefault("quant.sizing.take_profit_atr", 3.0)
	v.SetDefault("quant.sizing.trailing_atr", 1.5)
	v.SetDefault("quant.sizing.trailing_activation_pct", 3.0)
	v.SetDefault("quant.sizing.cash_buffer_pct", 0.05)

	v.SetDefault("quant.sell.take_profit_levels", []float64{5.0, 10.0, 20.0})
	v.SetDefault("quant.sell.partial_ratios", []float64{0.3, 0.3, 0.4})
	v.SetDefault("quant.sell.rsi_overbought", 70.0)
	v.SetDefault("quant.sell.max_hold_days", 10)
	v.SetDefault("quant.sell.min_strength", 0.3)
	v.SetDefault("quant.sell.min_confidence", 0.6)
	v.SetDefault("quant.sell.max_daily_trades", 10)

	v.SetDefault("quant.regimes.bull.max_stocks", 10)
	v.SetDefault("quant.regimes.bull.max_position_pct", 0.20)
	v.SetDefault("quant.regimes.bull.stop_loss_atr", 2.5)
	v.SetDefault("quant.regimes.bear.max_stocks", 3)
	v.SetDefault("quant.regimes.bear.max_position_pct", 0.10)
	v.SetDefault("quant.regimes.bear.stop_loss_atr", 1.5)
	v.SetDefault("quant.regimes.sideways.max_stocks", 5)
	v.SetDefault("quant.regimes.sideways.max_position_pct", 0.15)
	v.SetDefault("quant.regimes.sideways.stop_loss_atr", 2.0)
	v.SetDefault("quant.regimes.high_vol.max_stocks", 3)
	v.SetDefault("quant.regimes.high_vol.max_position_pct", 0.08)
	v.SetDefault("quant.regimes.high_vol.stop_loss_atr", 1.5)

	v.SetDefault("alert.min_interval", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func envOr(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
