package config

import (
	"fmt"

	"github.com/defi-org-code/ton-validator-reporter/internal/cycle"
)

// Constants is the per-deployment baseline the reporter compares the network
// against. It is read once at startup and never written at runtime.
type Constants struct {
	ValidatorsElectedFor int64 `yaml:"validators_elected_for" mapstructure:"validators_elected_for"`
	ElectionsStartBefore int64 `yaml:"elections_start_before" mapstructure:"elections_start_before"`
	ElectionsEndBefore   int64 `yaml:"elections_end_before" mapstructure:"elections_end_before"`
	StakeHeldFor         int64 `yaml:"stake_held_for" mapstructure:"stake_held_for"`

	// Empty addresses and hashes are learned from the network on first
	// observation and kept in the state file.
	ElectorAddr       string `yaml:"elector_addr" mapstructure:"elector_addr"`
	ConfigAddr        string `yaml:"config_addr" mapstructure:"config_addr"`
	ElectorCodeHash   string `yaml:"elector_code_hash" mapstructure:"elector_code_hash"`
	ConfigCodeHash    string `yaml:"config_code_hash" mapstructure:"config_code_hash"`
	NominatorCodeHash string `yaml:"nominator_code_hash" mapstructure:"nominator_code_hash"`
	ValidatorCodeHash string `yaml:"validator_code_hash" mapstructure:"validator_code_hash"`

	// Zero means "learn on first observation".
	GlobalVersion      int64 `yaml:"global_version" mapstructure:"global_version"`
	GlobalCapabilities int64 `yaml:"global_capabilities" mapstructure:"global_capabilities"`

	SuggestedFine     float64 `yaml:"suggested_fine" mapstructure:"suggested_fine"`
	SuggestedFinePart float64 `yaml:"suggested_fine_part" mapstructure:"suggested_fine_part"`
}

// DefaultConstants returns TON mainnet values.
func DefaultConstants() *Constants {
	return &Constants{
		ValidatorsElectedFor: 65536,
		ElectionsStartBefore: 32768,
		ElectionsEndBefore:   8192,
		StakeHeldFor:         32768,
		ElectorAddr:          "-1:3333333333333333333333333333333333333333333333333333333333333333",
		ConfigAddr:           "-1:5555555555555555555555555555555555555555555555555555555555555555",
		SuggestedFine:        101.0,
		SuggestedFinePart:    0.0,
	}
}

// LoadConstants reads the constants file, falling back to defaults for
// missing keys.
func LoadConstants(path string) (*Constants, error) {
	v := newViper("REPORTER_CONSTANTS")
	setDefaults(v, "", DefaultConstants())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read constants file %s: %w", path, err)
		}
	}

	var c Constants
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to parse constants: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConstants writes the constants file.
func SaveConstants(c *Constants, path string) error {
	return writeYAML(c, path)
}

// Validate enforces strictly positive durations.
func (c *Constants) Validate() error {
	for name, v := range map[string]int64{
		"validators_elected_for": c.ValidatorsElectedFor,
		"elections_start_before": c.ElectionsStartBefore,
		"elections_end_before":   c.ElectionsEndBefore,
		"stake_held_for":         c.StakeHeldFor,
	} {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, name, v)
		}
	}
	return nil
}

// CycleParams projects the timing constants for the cycle clock.
func (c *Constants) CycleParams() cycle.Params {
	return cycle.Params{
		ElectionDuration:     c.ValidatorsElectedFor,
		ElectionsStartBefore: c.ElectionsStartBefore,
		ElectionsEndBefore:   c.ElectionsEndBefore,
		StakeHeldFor:         c.StakeHeldFor,
	}
}
