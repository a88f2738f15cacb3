package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Variant identifies a supported ViT size. The set is closed; anything
// else fails with UnsupportedVariantError at construction time.
type Variant string

const (
	VariantTiny  Variant = "tiny"
	VariantSmall Variant = "small"
	VariantBase  Variant = "base"
)

// UnsupportedVariantError reports a variant outside the fixed table.
type UnsupportedVariantError struct {
	Variant string
}

func (e *UnsupportedVariantError) Error() string {
	return fmt.Sprintf("unsupported model variant %q (supported: tiny, small, base)", e.Variant)
}

// VariantParams are the per-variant constants fixed by the checkpoint.
type VariantParams struct {
	Dim   int // embedding width
	Heads int
}

func (p VariantParams) HeadDim() int {
	return p.Dim / p.Heads
}

// Params resolves the fixed constant table for a variant.
func (v Variant) Params() (VariantParams, error) {
	switch v {
	case VariantTiny:
		return VariantParams{Dim: 192, Heads: 3}, nil
	case VariantSmall:
		return VariantParams{Dim: 384, Heads: 6}, nil
	case VariantBase:
		return VariantParams{Dim: 768, Heads: 12}, nil
	default:
		return VariantParams{}, &UnsupportedVariantError{Variant: string(v)}
	}
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type FlightConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DataHost string `yaml:"data_host"`
	DataPort int    `yaml:"data_port"`
	MetaHost string `yaml:"meta_host"`
	MetaPort int    `yaml:"meta_port"`
}

type Config struct {
	Variant   Variant `yaml:"variant"`
	PatchSize int     `yaml:"patch_size"`
	Layers    int     `yaml:"layers"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Flight  FlightConfig  `yaml:"flight"`
}

func (c *Config) Validate() error {
	params, err := c.Variant.Params()
	if err != nil {
		return err
	}
	if c.PatchSize <= 0 {
		return fmt.Errorf("invalid patch_size: %d (must be positive)", c.PatchSize)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if params.Dim%params.Heads != 0 {
		return fmt.Errorf("dim mismatch: %d not divisible by heads %d", params.Dim, params.Heads)
	}
	return nil
}

func Default() Config {
	return Config{
		Variant:   VariantBase,
		PatchSize: 16,
		Layers:    12,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Flight: FlightConfig{
			DataHost: "localhost",
			DataPort: 3000,
			MetaHost: "localhost",
			MetaPort: 3001,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
