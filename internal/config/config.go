package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config is the full application configuration. The top-level engine keys
// keep the names used by existing config.json files.
type Config struct {
	Markets                 []core.Market  `mapstructure:"markets"`
	ForexRates              core.RateTable `mapstructure:"-"`
	DefaultConversionMethod string         `mapstructure:"default_conversion_method"`
	ProfitThresholdPct      float64        `mapstructure:"seuil_rentabilite_pct"`
	CyclesPerRotation       int            `mapstructure:"nb_cycles_par_rotation"`
	Files                   FilesConfig    `mapstructure:"files"`
	Archive                 ArchiveConfig  `mapstructure:"archive"`
	Metrics                 MetricsConfig  `mapstructure:"metrics"`
	Log                     LogConfig      `mapstructure:"log"`
}

// FilesConfig locates the operator's working files.
type FilesConfig struct {
	Transactions  string `mapstructure:"transactions"`
	Debriefing    string `mapstructure:"debriefing"`
	RotationState string `mapstructure:"rotation_state"`

	// SimulationState tracks simulated rotations apart from real ones.
	SimulationState string `mapstructure:"simulation_state"`
}

// ArchiveConfig selects where plans, reports and simulations are kept.
type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration. Metrics are written to a
// node_exporter textfile instead of being served.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TextfilePath string `mapstructure:"textfile_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	File string `mapstructure:"file"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	for _, key := range []string{"markets", "forex_rates"} {
		if !v.IsSet(key) {
			return nil, core.Errorf(core.ErrConfigMissing, "%s not found in %s", key, path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	rates, err := ParseRateTable(v.Get("forex_rates"))
	if err != nil {
		return nil, fmt.Errorf("parsing forex_rates: %w", err)
	}
	cfg.ForexRates = rates

	for i := range cfg.Markets {
		cfg.Markets[i].Currency = strings.ToUpper(strings.TrimSpace(cfg.Markets[i].Currency))
	}

	return &cfg, nil
}

// ParseRateTable converts the raw forex_rates section into a typed table.
// A number (or numeric string) is a legacy scalar rate; a map with bid, ask
// and bank_spread_pct is a quoted rate. Pair keys are upper-cased because
// viper lower-cases every key it reads.
func ParseRateTable(raw any) (core.RateTable, error) {
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}

	table := make(core.RateTable, len(m))
	for key, val := range m {
		pair := strings.ToUpper(strings.TrimSpace(key))
		if _, _, err := core.SplitPair(pair); err != nil {
			return nil, err
		}
		entry, err := parseRateEntry(val)
		if err != nil {
			return nil, core.Errorf(core.ErrConfigInvalid, "%s: %v", pair, err)
		}
		table[pair] = entry
	}
	return table, nil
}

func parseRateEntry(val any) (core.RateEntry, error) {
	switch val.(type) {
	case map[string]any, map[any]any:
		fields := make(map[string]any)
		for k, v := range cast.ToStringMap(val) {
			fields[strings.ToLower(k)] = v
		}
		bid, err := cast.ToFloat64E(fields["bid"])
		if err != nil {
			return nil, fmt.Errorf("bid: %w", err)
		}
		ask, err := cast.ToFloat64E(fields["ask"])
		if err != nil {
			return nil, fmt.Errorf("ask: %w", err)
		}
		spread, err := cast.ToFloat64E(fields["bank_spread_pct"])
		if err != nil {
			return nil, fmt.Errorf("bank_spread_pct: %w", err)
		}
		return core.QuotedRate{Bid: bid, Ask: ask, BankSpreadPct: spread}, nil
	default:
		rate, err := cast.ToFloat64E(val)
		if err != nil {
			return nil, err
		}
		return core.ScalarRate{Rate: rate}, nil
	}
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		DefaultConversionMethod: string(core.MethodForex),
		ProfitThresholdPct:      1.0,
		CyclesPerRotation:       3,
		Files: FilesConfig{
			Transactions:    "transactions.csv",
			Debriefing:      "debriefing.csv",
			RotationState:   "rotation_state.json",
			SimulationState: "simulation_state.json",
		},
		Archive: ArchiveConfig{
			Type: "localfs",
			Path: "archive",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("default_conversion_method", d.DefaultConversionMethod)
	v.SetDefault("seuil_rentabilite_pct", d.ProfitThresholdPct)
	v.SetDefault("nb_cycles_par_rotation", d.CyclesPerRotation)
	v.SetDefault("files.transactions", d.Files.Transactions)
	v.SetDefault("files.debriefing", d.Files.Debriefing)
	v.SetDefault("files.rotation_state", d.Files.RotationState)
	v.SetDefault("files.simulation_state", d.Files.SimulationState)
	v.SetDefault("archive.type", d.Archive.Type)
	v.SetDefault("archive.path", d.Archive.Path)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
}

// ConversionMethod returns the parsed default conversion method.
func (c *Config) ConversionMethod() (core.ConversionMethod, error) {
	return core.ParseConversionMethod(c.DefaultConversionMethod)
}

// Validate checks the configuration for structural errors. Price and rate
// plausibility is reported by the engine's coherence validator instead.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return core.Errorf(core.ErrConfigMissing, "no markets configured")
	}
	if c.ForexRates == nil {
		return core.Errorf(core.ErrConfigMissing, "forex_rates missing")
	}

	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.Currency == "" {
			return core.Errorf(core.ErrConfigInvalid, "market %q has no currency", m.Name)
		}
		if seen[m.Currency] {
			return core.Errorf(core.ErrConfigInvalid, "duplicate market for currency %s", m.Currency)
		}
		seen[m.Currency] = true
	}
	if !seen[core.PivotCurrency] {
		return core.Errorf(core.ErrConfigInvalid, "a %s market is required", core.PivotCurrency)
	}

	if _, err := c.ConversionMethod(); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if c.CyclesPerRotation < 1 {
		return core.Errorf(core.ErrConfigInvalid, "nb_cycles_par_rotation must be at least 1, got %d", c.CyclesPerRotation)
	}
	if math.IsNaN(c.ProfitThresholdPct) || math.IsInf(c.ProfitThresholdPct, 0) {
		return core.Errorf(core.ErrConfigInvalid, "seuil_rentabilite_pct must be finite")
	}

	switch c.Archive.Type {
	case "", "localfs":
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return core.Errorf(core.ErrConfigMissing, "archive.s3.bucket required when archive type is s3")
		}
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown archive type %q", c.Archive.Type)
	}

	if c.Metrics.Enabled && c.Metrics.TextfilePath == "" {
		return core.Errorf(core.ErrConfigMissing, "metrics.textfile_path required when metrics are enabled")
	}

	return nil
}
