package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hantu-quant/pkg/types"
)

func setCredentialEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_KEY", "PSkey000000000000000000000000000000")
	t.Setenv("APP_SECRET", "secret0000000000000000000000000000000000")
	t.Setenv("ACCOUNT_NUMBER", "50123456")
	t.Setenv("ACCOUNT_PROD_CODE", "01")
	t.Setenv("SERVER", "paper")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setCredentialEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Client.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Client.MaxRetries)
	}
	if cfg.Client.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Client.RequestTimeout)
	}
	if len(cfg.Client.RetryableCodes) != 2 {
		t.Errorf("RetryableCodes = %v", cfg.Client.RetryableCodes)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute || cfg.Cache.ChartTTL != 10*time.Minute {
		t.Errorf("cache TTLs = %v/%v", cfg.Cache.DefaultTTL, cfg.Cache.ChartTTL)
	}
	if cfg.Quant.Momentum.TopPercentile != 0.3 || cfg.Quant.Momentum.SectorLimit != 3 {
		t.Errorf("momentum = %+v", cfg.Quant.Momentum)
	}
	if len(cfg.Quant.Sell.TakeProfitLevels) != 3 || len(cfg.Quant.Sell.PartialRatios) != 3 {
		t.Errorf("sell ladder = %+v", cfg.Quant.Sell)
	}
	if cfg.Quant.Regimes.Bear.MaxStocks != 3 || cfg.Quant.Regimes.Bull.MaxStocks != 10 {
		t.Errorf("regimes = %+v", cfg.Quant.Regimes)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	setCredentialEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
client:
  max_retries: 5
  rate_limit_per_sec: 8
quant:
  momentum:
    top_percentile: 0.25
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5 from file", cfg.Client.MaxRetries)
	}
	if cfg.Quant.Momentum.TopPercentile != 0.25 {
		t.Errorf("TopPercentile = %v, want 0.25 from file", cfg.Quant.Momentum.TopPercentile)
	}
	// Untouched keys keep their defaults.
	if cfg.Quant.Momentum.SectorLimit != 3 {
		t.Errorf("SectorLimit = %d, want default 3", cfg.Quant.Momentum.SectorLimit)
	}
	if cfg.RateLimitPerSec() != 8 {
		t.Errorf("RateLimitPerSec = %d, want explicit 8", cfg.RateLimitPerSec())
	}
}

func TestRateLimitResolutionOrder(t *testing.T) {
	setCredentialEnv(t)

	// Server default: paper 5/s.
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSec() != 5 {
		t.Errorf("paper default = %d, want 5", cfg.RateLimitPerSec())
	}

	// Live default: 20/s.
	t.Setenv("SERVER", "live")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSec() != 20 {
		t.Errorf("live default = %d, want 20", cfg.RateLimitPerSec())
	}

	// Environment override beats the server default.
	t.Setenv("RATE_LIMIT_PER_SEC", "12")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RateLimitPerSec() != 12 {
		t.Errorf("env override = %d, want 12", cfg.RateLimitPerSec())
	}

	t.Setenv("RATE_LIMIT_PER_SEC", "zero")
	if _, err := Load(""); err == nil {
		t.Error("invalid RATE_LIMIT_PER_SEC accepted")
	}
}

func TestCredentialsFromEnvironment(t *testing.T) {
	setCredentialEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	creds := cfg.Credentials
	if creds.AccountNumber != "50123456" || creds.Server != types.Paper {
		t.Errorf("credentials = %+v", creds.SafeString())
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Cache.RedisURL)
	}
	if got := creds.RESTBase(); got != PaperRESTBase {
		t.Errorf("RESTBase = %q", got)
	}
	if got := creds.WSBase(); got != PaperWSBase {
		t.Errorf("WSBase = %q", got)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	setCredentialEnv(t)
	base := func(t *testing.T) *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cfg := base(t)
	cfg.Credentials.AppKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("missing APP_KEY accepted")
	}

	cfg = base(t)
	cfg.Credentials.Server = "staging"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown server accepted")
	}

	cfg = base(t)
	cfg.Quant.Momentum.TopPercentile = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("top_percentile > 1 accepted")
	}

	cfg = base(t)
	cfg.Quant.Sizing.MinPositionPct = 0.5
	cfg.Quant.Sizing.MaxPositionPct = 0.1
	if err := cfg.Validate(); err == nil {
		t.Error("inverted position band accepted")
	}

	cfg = base(t)
	cfg.Quant.Sell.PartialRatios = cfg.Quant.Sell.PartialRatios[:2]
	if err := cfg.Validate(); err == nil {
		t.Error("mismatched take-profit ladder accepted")
	}
}

func TestSecretsNeverFormatted(t *testing.T) {
	t.Parallel()
	creds := Credentials{
		AppKey:             "PSverysecretkey",
		AppSecret:          "alsoverysecret",
		AccountNumber:      "50123456",
		AccountProductCode: "01",
		Server:             types.Paper,
	}

	for _, rendered := range []string{creds.SafeString(), creds.String()} {
		if strings.Contains(rendered, "verysecret") {
			t.Fatalf("secret leaked: %q", rendered)
		}
		if !strings.Contains(rendered, "***") {
			t.Errorf("no masking marker in %q", rendered)
		}
	}
	// Account number keeps only its tail.
	if !strings.Contains(creds.SafeString(), "3456") || strings.Contains(creds.SafeString(), "50123456") {
		t.Errorf("account masking: %q", creds.SafeString())
	}
}
