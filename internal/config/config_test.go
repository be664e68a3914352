package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "AAPL", cfg.Run.Symbol)
	assert.Equal(t, "1d", cfg.Run.Interval)
	assert.Equal(t, 100000.0, cfg.Run.StartingCash)
	assert.Equal(t, 0.001, cfg.Run.CommissionRate)
	assert.Equal(t, "rsi", cfg.Run.Strategy)
	assert.Equal(t, "units", cfg.Run.Size.Mode)
	assert.Equal(t, 1.0, cfg.Run.Size.Value)
	assert.Equal(t, "yahoo", cfg.Data.Source)
	assert.True(t, cfg.Data.CacheEnabled)
	assert.Equal(t, defaultYahooREST, cfg.Data.RESTBaseURL)
	assert.True(t, cfg.Results.Enabled)
}

func TestLoadKeepsExplicitZeroCommission(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
run:
  commission_rate: 0
  starting_cash: 1000
  strategy_params:
    rsi_period: 2
data:
  cache_enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Run.CommissionRate)
	assert.Equal(t, 1000.0, cfg.Run.StartingCash)
	assert.Equal(t, 2.0, cfg.Run.StrategyParams["rsi_period"])
	assert.False(t, cfg.Data.CacheEnabled)
}

func TestLoadRejectsInvalidRun(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"negative commission", "run:\n  commission_rate: -0.1\n", "run.commission_rate"},
		{"zero cash", "run:\n  starting_cash: 0\n", "run.starting_cash"},
		{"negative cash", "run:\n  starting_cash: -5\n", "run.starting_cash"},
		{"reversed range", "run:\n  start: 2022-01-01\n  end: 2021-01-01\n", "run.range"},
		{"bad size mode", "run:\n  size:\n    mode: kelly\n", "run.size.mode"},
		{"bad source", "data:\n  source: ftp\n", "data.source"},
		{"csv without file", "data:\n  source: csv\n", "data.file"},
		{"telegram without token", "notify:\n  telegram:\n    enabled: true\n", "notify.telegram"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "run:\n  symbol: MSFT\n  starting_cash: 5000\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nrun:\n  starting_cash: 7000\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", cfg.Run.Symbol)
	assert.Equal(t, 7000.0, cfg.Run.StartingCash)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestRunConfigRange(t *testing.T) {
	rc := RunConfig{Start: "2021-01-01", End: "2021-06-30T00:00:00Z"}
	start, end, err := rc.Range()
	require.NoError(t, err)
	assert.Equal(t, 2021, start.Year())
	assert.Equal(t, 6, int(end.Month()))

	_, _, err = RunConfig{Start: "yesterday"}.Range()
	assert.Error(t, err)
}

func TestApplyRunDefaults(t *testing.T) {
	base, err := Default()
	require.NoError(t, err)
	req := RunConfig{Symbol: "TSLA", CommissionRate: 0}
	req.ApplyRunDefaults(base.Run)
	assert.Equal(t, "TSLA", req.Symbol)
	assert.Equal(t, base.Run.StartingCash, req.StartingCash)
	assert.Equal(t, 0.0, req.CommissionRate)
	assert.Equal(t, "units", req.Size.Mode)
	require.NoError(t, req.Validate())
}
