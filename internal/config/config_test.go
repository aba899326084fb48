package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/newthinker/p2parb/internal/core"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "markets": [
    {"currency": "EUR", "buy_price": 0.857, "sell_price": 0.851, "fee_pct": 0.1, "name": "Europe"},
    {"currency": "xaf", "buy_price": 595.86, "sell_price": 593.65, "fee_pct": 0, "name": "Cameroun"}
  ],
  "forex_rates": {
    "XAF/EUR": 655.957,
    "KES/EUR": {"bid": 140.1, "ask": 141.3, "bank_spread_pct": 2.5}
  },
  "seuil_rentabilite_pct": 2.5,
  "default_conversion_method": "bank"
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(cfg.Markets))
	}
	if cfg.Markets[1].Currency != "XAF" {
		t.Errorf("currency should be upper-cased, got %s", cfg.Markets[1].Currency)
	}
	if cfg.Markets[0].FeePct != 0.1 {
		t.Errorf("expected fee 0.1, got %f", cfg.Markets[0].FeePct)
	}

	scalar, ok := cfg.ForexRates["XAF/EUR"].(core.ScalarRate)
	if !ok || scalar.Rate != 655.957 {
		t.Errorf("unexpected XAF/EUR entry: %#v", cfg.ForexRates["XAF/EUR"])
	}
	quoted, ok := cfg.ForexRates["KES/EUR"].(core.QuotedRate)
	if !ok || quoted.Bid != 140.1 || quoted.Ask != 141.3 || quoted.BankSpreadPct != 2.5 {
		t.Errorf("unexpected KES/EUR entry: %#v", cfg.ForexRates["KES/EUR"])
	}

	if cfg.ProfitThresholdPct != 2.5 {
		t.Errorf("expected threshold 2.5, got %f", cfg.ProfitThresholdPct)
	}
	if cfg.DefaultConversionMethod != "bank" {
		t.Errorf("expected bank, got %s", cfg.DefaultConversionMethod)
	}
	if cfg.CyclesPerRotation != 3 {
		t.Errorf("expected default 3 cycles, got %d", cfg.CyclesPerRotation)
	}
	if cfg.Files.Transactions != "transactions.csv" {
		t.Errorf("expected default transactions file, got %s", cfg.Files.Transactions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
markets:
  - currency: EUR
    buy_price: 0.857
    sell_price: 0.851
forex_rates:
  XOF/EUR: 655.957
archive:
  type: s3
  s3:
    bucket: p2parb
    prefix: prod
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Archive.Type != "s3" || cfg.Archive.S3.Bucket != "p2parb" {
		t.Errorf("unexpected archive config: %+v", cfg.Archive)
	}
	if _, ok := cfg.ForexRates["XOF/EUR"]; !ok {
		t.Errorf("expected XOF/EUR key, got %v", cfg.ForexRates.Keys())
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("P2PARB_TEST_SECRET", "s3cr3t")
	path := writeConfig(t, "config.yaml", `
markets:
  - currency: EUR
    buy_price: 0.857
    sell_price: 0.851
forex_rates:
  XOF/EUR: 655.957
archive:
  s3:
    secret_key: ${P2PARB_TEST_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Archive.S3.SecretKey != "s3cr3t" {
		t.Errorf("expected expanded secret, got %q", cfg.Archive.S3.SecretKey)
	}
}

func TestLoad_MissingSections(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no markets", `{"forex_rates": {"XAF/EUR": 655.957}}`},
		{"no forex_rates", `{"markets": [{"currency": "EUR", "buy_price": 1, "sell_price": 1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", tt.content))
			if !errors.Is(err, core.ErrConfigMissing) {
				t.Errorf("expected CONFIG_MISSING, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseRateTable(t *testing.T) {
	table, err := ParseRateTable(map[string]any{
		"xaf/eur": "655.957",
		"kes/eur": map[string]any{"BID": 140, "ask": 141.5},
	})
	if err != nil {
		t.Fatalf("ParseRateTable: %v", err)
	}
	if r, ok := table["XAF/EUR"].(core.ScalarRate); !ok || r.Rate != 655.957 {
		t.Errorf("unexpected XAF/EUR: %#v", table["XAF/EUR"])
	}
	if r, ok := table["KES/EUR"].(core.QuotedRate); !ok || r.Bid != 140 || r.Ask != 141.5 || r.BankSpreadPct != 0 {
		t.Errorf("unexpected KES/EUR: %#v", table["KES/EUR"])
	}

	if _, err := ParseRateTable(map[string]any{"XAFEUR": 655.957}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID for malformed pair, got %v", err)
	}
	if _, err := ParseRateTable(map[string]any{"XAF/EUR": "abc"}); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID for non-numeric rate, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.DefaultConversionMethod != "forex" {
		t.Errorf("expected default method forex, got %s", cfg.DefaultConversionMethod)
	}
	if cfg.ProfitThresholdPct != 1.0 {
		t.Errorf("expected default threshold 1.0, got %f", cfg.ProfitThresholdPct)
	}
	if cfg.Archive.Type != "localfs" {
		t.Errorf("expected localfs archive, got %s", cfg.Archive.Type)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := *Defaults()
		cfg.Markets = []core.Market{
			{Currency: "EUR", BuyPrice: 0.857, SellPrice: 0.851},
			{Currency: "XAF", BuyPrice: 595.86, SellPrice: 593.65},
		}
		cfg.ForexRates = core.RateTable{"XAF/EUR": core.ScalarRate{Rate: 655.957}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr *core.Error
	}{
		{"valid config", func(*Config) {}, nil},
		{"no markets", func(c *Config) { c.Markets = nil }, core.ErrConfigMissing},
		{"no rates", func(c *Config) { c.ForexRates = nil }, core.ErrConfigMissing},
		{"duplicate currency", func(c *Config) {
			c.Markets = append(c.Markets, core.Market{Currency: "XAF"})
		}, core.ErrConfigInvalid},
		{"no EUR market", func(c *Config) { c.Markets = c.Markets[1:] }, core.ErrConfigInvalid},
		{"unknown method", func(c *Config) { c.DefaultConversionMethod = "swift" }, core.ErrConfigInvalid},
		{"zero cycles", func(c *Config) { c.CyclesPerRotation = 0 }, core.ErrConfigInvalid},
		{"s3 without bucket", func(c *Config) { c.Archive.Type = "s3" }, core.ErrConfigMissing},
		{"unknown archive", func(c *Config) { c.Archive.Type = "ftp" }, core.ErrConfigInvalid},
		{"metrics without path", func(c *Config) { c.Metrics.Enabled = true }, core.ErrConfigMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %s", err, tt.wantErr.Code)
			}
		})
	}
}
