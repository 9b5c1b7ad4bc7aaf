// Package config loads the engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/lottery_engine/internal/app/domain/lottery"
)

// Config is the full application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	HTTP     HTTPConfig     `yaml:"http"`
	Postgres PostgresConfig `yaml:"postgres"`
	Beacon   BeaconConfig   `yaml:"beacon"`
	Engine   EngineConfig   `yaml:"engine"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// PostgresConfig configures the optional journal database. An empty DSN
// keeps the journal in memory.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// BeaconConfig configures the randomness beacon.
type BeaconConfig struct {
	Secret string `yaml:"secret"`
}

// TierConfig configures one settlement pool.
type TierConfig struct {
	Kind            string  `yaml:"kind"`
	ShareBps        int64   `yaml:"share_bps"`
	SplitsBps       []int64 `yaml:"splits_bps"`
	MinParticipants int     `yaml:"min_participants"`
	MinPot          int64   `yaml:"min_pot"`
	Schedule        string  `yaml:"schedule"`
}

// EngineConfig configures the lottery core.
type EngineConfig struct {
	Admin         string        `yaml:"admin"`
	Vault         string        `yaml:"vault"`
	TicketPrice   int64         `yaml:"ticket_price"`
	ReferralBps   int64         `yaml:"referral_bps"`
	BonusShareBps int64         `yaml:"bonus_share_bps"`
	DrawTimeout   time.Duration `yaml:"draw_timeout"`
	Tiers         []TierConfig  `yaml:"tiers"`
}

// Default returns the configuration used when no file is provided:
// four tiers with a 5% referral cut and a 10% bonus pool, amounts in
// 10^-8 base units.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Listen:    ":8080",
			RateLimit: 50,
			RateBurst: 100,
		},
		Beacon: BeaconConfig{Secret: ""},
		Engine: EngineConfig{
			Admin:         "admin",
			Vault:         "lottery-vault",
			TicketPrice:   100_000_000,
			ReferralBps:   500,
			BonusShareBps: 1000,
			Tiers: []TierConfig{
				{Kind: string(lottery.TierHourly), ShareBps: 3000, SplitsBps: []int64{10_000}, MinParticipants: 3, MinPot: 100_000_000, Schedule: "@hourly"},
				{Kind: string(lottery.TierMonthly), ShareBps: 2000, SplitsBps: []int64{7000, 3000}, MinParticipants: 5, MinPot: 1_000_000_000, Schedule: "@monthly"},
				{Kind: string(lottery.TierYearly), ShareBps: 1000, SplitsBps: []int64{5000, 3000, 2000}, MinParticipants: 10, MinPot: 10_000_000_000, Schedule: "@yearly"},
				{Kind: string(lottery.TierGrand), ShareBps: 500, SplitsBps: []int64{10_000}, MinParticipants: 25, MinPot: 100_000_000_000, Schedule: "@yearly"},
			},
		},
	}
}

// Load reads the configuration from path, applying defaults for absent
// fields.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration from path, or returns the
// default configuration if path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks cross-field constraints the engine relies on.
func (c Config) Validate() error {
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.Engine.TicketPrice <= 0 {
		return fmt.Errorf("engine.ticket_price must be positive")
	}
	if c.Engine.Vault == "" {
		return fmt.Errorf("engine.vault is required")
	}
	if len(c.Engine.Tiers) == 0 {
		return fmt.Errorf("engine.tiers must not be empty")
	}

	shareSum := c.Engine.BonusShareBps
	for _, tier := range c.Engine.Tiers {
		if !lottery.TierKind(tier.Kind).Valid() {
			return fmt.Errorf("tier %q: unknown kind", tier.Kind)
		}
		if tier.Schedule == "" {
			return fmt.Errorf("tier %q: schedule is required", tier.Kind)
		}
		var splitSum int64
		for _, bps := range tier.SplitsBps {
			splitSum += bps
		}
		if splitSum <= 0 || splitSum > lottery.BpsDenominator {
			return fmt.Errorf("tier %q: splits must sum to (0, 100%%]", tier.Kind)
		}
		shareSum += tier.ShareBps
	}
	if shareSum > lottery.BpsDenominator {
		return fmt.Errorf("tier shares plus bonus share exceed 100%%")
	}
	return nil
}

// Schedules returns the per-tier cron schedule map.
func (c Config) Schedules() map[lottery.TierKind]string {
	out := make(map[lottery.TierKind]string, len(c.Engine.Tiers))
	for _, tier := range c.Engine.Tiers {
		out[lottery.TierKind(tier.Kind)] = tier.Schedule
	}
	return out
}
