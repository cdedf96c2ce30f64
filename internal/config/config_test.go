package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
portfolio:
  capital: 50000
  blacklists: [THAI, ea]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Portfolio.Capital != 50000 {
		t.Errorf("expected capital 50000, got %v", cfg.Portfolio.Capital)
	}
	if cfg.Backtest.HoldingDays != 365 {
		t.Errorf("expected default holding_days 365, got %d", cfg.Backtest.HoldingDays)
	}
	if cfg.Backtest.HoldingPeriod() != 365*24*time.Hour {
		t.Errorf("unexpected holding period %v", cfg.Backtest.HoldingPeriod())
	}
	if cfg.MarketData.Timeout != 15*time.Second {
		t.Errorf("expected default timeout 15s, got %v", cfg.MarketData.Timeout)
	}
	if cfg.Allocation.TimeBudget != 200*time.Millisecond || cfg.Allocation.GapTolerance != 1e-4 {
		t.Errorf("unexpected allocation budget %+v", cfg.Allocation)
	}
	if cfg.MarketData.CookieURL != "https://fc.yahoo.com" {
		t.Errorf("unexpected cookie url %q", cfg.MarketData.CookieURL)
	}
	if cfg.Universe.TickerSuffix != ".BK" {
		t.Errorf("expected .BK suffix, got %q", cfg.Universe.TickerSuffix)
	}
	if !cfg.Portfolio.IsBlacklisted("EA.BK") || !cfg.Portfolio.IsBlacklisted("thai") {
		t.Errorf("expected blacklist match to ignore case and suffix")
	}
	if cfg.Portfolio.IsBlacklisted("PTT") {
		t.Errorf("PTT should not be blacklisted")
	}
}

func TestLoad_ReadsTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[portfolio]
capital = 20000
risk_free_rate = 0.015
blacklists = ["KBANK"]

[backtest]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Portfolio.RiskFreeRate != 0.015 {
		t.Errorf("expected risk_free_rate 0.015, got %v", cfg.Portfolio.RiskFreeRate)
	}
	if cfg.Backtest.Enabled {
		t.Errorf("expected backtest disabled")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
portfolio:
  capital: 0
  lot_size: 0
backtest:
  unusual_gain_warn: 0.5
universe:
  index: nasdaq
allocation:
  time_budget: -1s
  gap_tolerance: 2
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}

	for _, want := range []string{"portfolio.capital", "portfolio.lot_size", "backtest.unusual_gain_warn", "universe.index", "allocation.time_budget", "allocation.gap_tolerance"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}
