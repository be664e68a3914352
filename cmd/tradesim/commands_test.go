package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/analyzer"
	"tradesim/internal/config"
	"tradesim/internal/indicator"
)

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"rsi_period=2", " low = 25.5"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rsi_period": 2, "low": 25.5}, got)

	_, err = parseParams([]string{"rsi_period"})
	assert.True(t, config.IsConfigError(err))
	_, err = parseParams([]string{"rsi_period=abc"})
	assert.True(t, config.IsConfigError(err))
}

func TestSpecsFromConfig(t *testing.T) {
	specs, err := specsFromConfig([]config.IndicatorSpec{
		{Name: "bb", Kind: "bbands", Params: map[string]float64{"period": 20, "k": 2}},
		{Name: "vwap_20", Kind: "VWAP", Params: map[string]float64{"period": 20}},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, indicator.KindBollinger, specs[0].Kind)
	assert.Equal(t, indicator.KindVWAP, specs[1].Kind)

	_, err = specsFromConfig([]config.IndicatorSpec{{Name: "x", Kind: "ichimoku"}})
	assert.True(t, config.IsConfigError(err))
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	report := analyzer.Report{Symbol: "AAPL", StartingValue: 1000, EndingValue: 1003}

	yamlPath := filepath.Join(dir, "out", "report.yaml")
	require.NoError(t, writeReport(yamlPath, report))
	raw, err := os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ending_value: 1003")

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, writeReport(jsonPath, report))
	raw, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"symbol": "AAPL"`)

	assert.True(t, config.IsConfigError(writeReport(filepath.Join(dir, "report.txt"), report)))
}

func TestReadConfigFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := readConfig(defaultConfigPath)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", cfg.Run.Symbol)
	assert.Equal(t, "rsi", cfg.Run.Strategy)

	_, err = readConfig("missing.yaml")
	assert.True(t, config.IsConfigError(err))
}
