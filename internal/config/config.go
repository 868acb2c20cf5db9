// Package config loads the settlement engine's owner-controlled and
// runtime parameters from a TOML file, with environment variable
// overrides for connection secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// Config is the full settlement engine configuration.
type Config struct {
	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`

	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`

	Redis struct {
		URL       string `toml:"url"`
		CacheTTLS int    `toml:"cache_ttl_seconds"`
	} `toml:"redis"`

	Vault struct {
		Owner                string            `toml:"owner"`
		FundingRateFactor    string            `toml:"funding_rate_factor"`
		FundingIntervalSecs  int               `toml:"funding_interval_seconds"`
		LiquidationFee       string            `toml:"liquidation_fee"`
		MarginFee            string            `toml:"margin_fee"`
		MaxLeverage          string            `toml:"max_leverage"`
		MinProfitTimeSecs    int               `toml:"min_profit_time_seconds"`
		MinProfitBasisPoints map[string]string `toml:"min_profit_basis_points"`
		WhitelistedTokens    []string          `toml:"whitelisted_tokens"`
	} `toml:"vault"`

	Market struct {
		MaxTimeDelaySecs int `toml:"max_time_delay_seconds"`
	} `toml:"market"`

	Glp struct {
		MintFee string `toml:"mint_fee"`
		BurnFee string `toml:"burn_fee"`
	} `toml:"glp"`

	Exposure struct {
		MaxGlobalLongSizes  map[string]string `toml:"max_global_long_sizes"`
		MaxGlobalShortSizes map[string]string `toml:"max_global_short_sizes"`
	} `toml:"exposure"`
}

// FundingInterval returns vault.funding_interval_seconds as a duration.
// The Vault does not read it: funding refreshes on the fixed
// vault.FundingInterval (8 hours).
func (c *Config) FundingInterval() time.Duration {
	return time.Duration(c.Vault.FundingIntervalSecs) * time.Second
}

// MaxTimeDelay is the configured Market request expiry window.
func (c *Config) MaxTimeDelay() time.Duration {
	return time.Duration(c.Market.MaxTimeDelaySecs) * time.Second
}

// AdminConfig converts the loaded TOML values into the decimal-typed
// model.AdminConfig the Vault operates on.
func (c *Config) AdminConfig() (model.AdminConfig, error) {
	fundingRateFactor, err := parseDecimal("vault.funding_rate_factor", c.Vault.FundingRateFactor)
	if err != nil {
		return model.AdminConfig{}, err
	}
	liquidationFee, err := parseDecimal("vault.liquidation_fee", c.Vault.LiquidationFee)
	if err != nil {
		return model.AdminConfig{}, err
	}
	marginFee, err := parseDecimal("vault.margin_fee", c.Vault.MarginFee)
	if err != nil {
		return model.AdminConfig{}, err
	}
	maxLeverage, err := parseDecimal("vault.max_leverage", c.Vault.MaxLeverage)
	if err != nil {
		return model.AdminConfig{}, err
	}

	minProfitBps := make(map[string]decimal.Decimal, len(c.Vault.MinProfitBasisPoints))
	for token, raw := range c.Vault.MinProfitBasisPoints {
		v, err := parseDecimal(fmt.Sprintf("vault.min_profit_basis_points.%s", token), raw)
		if err != nil {
			return model.AdminConfig{}, err
		}
		// TOML values are basis points; the Vault compares profit
		// against a fraction of size (75 bps = 0.0075).
		minProfitBps[token] = v.Div(decimal.NewFromInt(10_000))
	}

	return model.AdminConfig{
		FundingRateFactor:    fundingRateFactor,
		LiquidationFee:       liquidationFee,
		MarginFee:            marginFee,
		MaxLeverage:          maxLeverage,
		MinProfitTime:        time.Duration(c.Vault.MinProfitTimeSecs) * time.Second,
		MinProfitBasisPoints: minProfitBps,
	}, nil
}

// GlpFees returns the configured GlpManager mint/burn fee fractions.
func (c *Config) GlpFees() (mintFee, burnFee decimal.Decimal, err error) {
	mintFee, err = parseDecimal("glp.mint_fee", c.Glp.MintFee)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	burnFee, err = parseDecimal("glp.burn_fee", c.Glp.BurnFee)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return mintFee, burnFee, nil
}

// ExposureLimits returns the configured per-token global long/short
// size caps, decimal-parsed.
func (c *Config) ExposureLimits() (maxLong, maxShort map[string]decimal.Decimal, err error) {
	maxLong = make(map[string]decimal.Decimal, len(c.Exposure.MaxGlobalLongSizes))
	for token, raw := range c.Exposure.MaxGlobalLongSizes {
		v, err := parseDecimal(fmt.Sprintf("exposure.max_global_long_sizes.%s", token), raw)
		if err != nil {
			return nil, nil, err
		}
		maxLong[token] = v
	}
	maxShort = make(map[string]decimal.Decimal, len(c.Exposure.MaxGlobalShortSizes))
	for token, raw := range c.Exposure.MaxGlobalShortSizes {
		v, err := parseDecimal(fmt.Sprintf("exposure.max_global_short_sizes.%s", token), raw)
		if err != nil {
			return nil, nil, err
		}
		maxShort[token] = v
	}
	return maxLong, maxShort, nil
}

// Load reads and validates the TOML configuration file at path, then
// applies DATABASE_URL / REDIS_URL environment overrides so secrets
// never need to live on disk.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Vault.FundingIntervalSecs <= 0 {
		cfg.Vault.FundingIntervalSecs = 3600
	}
	if cfg.Vault.FundingRateFactor == "" {
		cfg.Vault.FundingRateFactor = "0.0001"
	}
	if cfg.Vault.LiquidationFee == "" {
		cfg.Vault.LiquidationFee = "5"
	}
	if cfg.Vault.MarginFee == "" {
		cfg.Vault.MarginFee = "0.001"
	}
	if cfg.Vault.MaxLeverage == "" {
		cfg.Vault.MaxLeverage = "50"
	}
	if cfg.Market.MaxTimeDelaySecs <= 0 {
		cfg.Market.MaxTimeDelaySecs = 300
	}
	if cfg.Glp.MintFee == "" {
		cfg.Glp.MintFee = "0.003"
	}
	if cfg.Glp.BurnFee == "" {
		cfg.Glp.BurnFee = "0.003"
	}
	if cfg.Redis.CacheTTLS <= 0 {
		cfg.Redis.CacheTTLS = 30
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
}

func validate(cfg *Config) error {
	if cfg.Vault.Owner == "" {
		return errors.New("vault.owner is required")
	}
	if len(cfg.Vault.WhitelistedTokens) == 0 {
		return errors.New("vault.whitelisted_tokens is empty")
	}
	if _, err := cfg.AdminConfig(); err != nil {
		return err
	}
	if _, _, err := cfg.GlpFees(); err != nil {
		return err
	}
	if _, _, err := cfg.ExposureLimits(); err != nil {
		return err
	}
	return nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", field, err)
	}
	return v, nil
}
