package analyzer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tradesim/internal/broker"
)

func TestEmptyAnalyzerAveragesAreZero(t *testing.T) {
	s := NewTradeAnalyzer().Summary()
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.AverageProfitPerTrade)
	assert.Zero(t, s.AverageTradeLength)
	assert.Zero(t, s.WinRate)
}

func TestAnalyzerAggregates(t *testing.T) {
	a := NewTradeAnalyzer()
	trades := []broker.Trade{
		{GrossPnL: 12, NetPnL: 10, Commission: 2, BarLen: 3},
		{GrossPnL: -4, NetPnL: -5, Commission: 1, BarLen: 1},
		{GrossPnL: 1, NetPnL: 0, Commission: 1, BarLen: 2},
		{GrossPnL: 8, NetPnL: 7.5, Commission: 0.5, BarLen: 6},
	}
	for _, tr := range trades {
		a.Record(tr)
	}
	s := a.Summary()
	assert.Equal(t, 4, s.TotalTrades)
	assert.Equal(t, 2, s.Won)
	assert.Equal(t, 2, s.Lost, "zero net pnl counts as lost")
	assert.InDelta(t, 17.0, s.GrossPnL, 1e-12)
	assert.InDelta(t, 12.5, s.NetPnL, 1e-12)
	assert.InDelta(t, 4.5, s.Commission, 1e-12)
	assert.InDelta(t, 12.5/4, s.AverageProfitPerTrade, 1e-12)
	assert.InDelta(t, 3.0, s.AverageTradeLength, 1e-12)
	assert.Equal(t, 10.0, s.BestTrade)
	assert.Equal(t, -5.0, s.WorstTrade)
	assert.Equal(t, 2, s.LongestLoseStreak)
	assert.Equal(t, 1, s.LongestWinStreak)
	assert.Len(t, a.Trades(), 4)
}

func TestEquityCurveDrawdownAndSharpe(t *testing.T) {
	c := NewEquityCurve()
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []float64{100, 110, 99, 120, 108} {
		c.Observe(start.AddDate(0, 0, i), v, v)
	}
	assert.InDelta(t, 0.1, c.MaxDrawdown(), 1e-12)
	assert.Len(t, c.Points(), 5)
	assert.InDelta(t, 0.1, c.Points()[4].Drawdown, 1e-12)
	assert.NotZero(t, c.Sharpe(252))

	flat := NewEquityCurve()
	for i := 0; i < 5; i++ {
		flat.Observe(start.AddDate(0, 0, i), 100, 100)
	}
	assert.Zero(t, flat.Sharpe(252))
	assert.Zero(t, NewEquityCurve().Sharpe(252))
}

func TestReportTextUsesTwoDecimals(t *testing.T) {
	r := Build(Summary{TotalTrades: 3, Won: 2, Lost: 1, NetPnL: 10, AverageProfitPerTrade: 10.0 / 3, AverageTradeLength: 4}, 1000, 1010.004)
	text := r.Text()
	for _, want := range []string{
		"Starting Portfolio Value: 1000.00",
		"Final Portfolio Value: 1010.00",
		"Total Trades: 3.00",
		"Profitable Trades: 2.00",
		"Unprofitable Trades: 1.00",
		"Average Profit per Trade: $3.33",
		"Average Trade Length: 4.00 periods",
	} {
		assert.Contains(t, text, want)
	}
	assert.False(t, strings.Contains(text, "Backtest:"))
	assert.InDelta(t, 0.4004, r.Extras.ReturnPct, 1e-9)
}

func TestReportYAMLRoundTripsKeys(t *testing.T) {
	r := Build(Summary{TotalTrades: 1, Won: 1, NetPnL: 5}, 100, 105)
	r.Symbol = "AAPL"
	raw, err := r.YAML()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	for _, key := range []string{"starting_value", "ending_value", "total_trades", "won", "lost",
		"total_net_profit", "average_profit_per_trade", "average_trade_length"} {
		assert.Contains(t, doc, key)
	}

	js, err := r.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(js), `"symbol": "AAPL"`)
}
