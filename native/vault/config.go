package vault

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// RepaySplit selects how a repayment is divided between the principal and
// reward holdings.
type RepaySplit string

const (
	// RepaySplitOutstanding routes the interest share of the outstanding
	// balance to rewards: floor(amount * (owed - borrowed) / owed).
	RepaySplitOutstanding RepaySplit = "outstanding"
	// RepaySplitRate routes floor(amount * interestRate) to rewards, capped
	// at the interest still outstanding.
	RepaySplitRate RepaySplit = "rate"
)

// Config captures the runtime configuration for the vault module.
type Config struct {
	RepaySplit RepaySplit `toml:"RepaySplit"`
	Paused     bool       `toml:"Paused"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	return Config{RepaySplit: RepaySplitOutstanding}
}

// LoadConfig decodes a TOML module configuration from path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode vault config: %w", err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	c.RepaySplit = RepaySplit(strings.ToLower(strings.TrimSpace(string(c.RepaySplit))))
	if c.RepaySplit == "" {
		c.RepaySplit = RepaySplitOutstanding
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch c.RepaySplit {
	case RepaySplitOutstanding, RepaySplitRate:
		return nil
	default:
		return fmt.Errorf("vault config: unknown RepaySplit %q", c.RepaySplit)
	}
}
