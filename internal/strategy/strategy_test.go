package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/broker"
	"tradesim/internal/config"
	"tradesim/internal/indicator"
	"tradesim/internal/market"
)

func feedOf(t *testing.T, closes ...float64) *market.Feed {
	t.Helper()
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	feed, err := market.Load("TEST", bars)
	require.NoError(t, err)
	return feed
}

// replay feeds the strategy's indicators and returns the view for each bar.
func replay(t *testing.T, s Strategy, feed *market.Feed, pos broker.Position, pending bool) []View {
	t.Helper()
	eng := indicator.NewEngine()
	for _, spec := range s.Indicators() {
		require.NoError(t, eng.AddSpec(spec))
	}
	var views []View
	prev := eng.Snapshot()
	for i := 0; i < feed.Len(); i++ {
		require.NoError(t, eng.Observe(context.Background(), feed.At(i)))
		snap := eng.Snapshot()
		views = append(views, NewView(feed, i, snap, prev, pos, 1000, 1000, pending))
		prev = snap
	}
	return views
}

func TestRegistryBuildsWithDefaults(t *testing.T) {
	reg := Default()
	assert.Equal(t, []string{"macd_cross", "rsi", "sma_cross"}, reg.Names())

	s, err := reg.Build("RSI", nil, nil)
	require.NoError(t, err)
	rsi := s.(*RSIThreshold)
	assert.Equal(t, 14, rsi.p.Period)
	assert.Equal(t, 30.0, rsi.p.Low)
	assert.Equal(t, 70.0, rsi.p.High)
	assert.Len(t, s.Indicators(), 3)

	s, err = reg.Build("rsi", map[string]float64{"rsi_period": 2}, broker.Units(5))
	require.NoError(t, err)
	assert.Equal(t, 2, s.(*RSIThreshold).p.Period)
	assert.Equal(t, "units(5)", s.(*RSIThreshold).size.String())
}

func TestRegistryRejectsBadParams(t *testing.T) {
	reg := Default()
	cases := []struct {
		name   string
		strat  string
		params map[string]float64
	}{
		{"unknown strategy", "turtle", nil},
		{"unknown param", "rsi", map[string]float64{"lookback": 3}},
		{"fractional period", "rsi", map[string]float64{"rsi_period": 2.5}},
		{"threshold out of range", "rsi", map[string]float64{"high": 140}},
		{"inverted thresholds", "rsi", map[string]float64{"low": 80, "high": 20}},
		{"fast above slow", "sma_cross", map[string]float64{"fast": 50, "slow": 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Build(tc.strat, tc.params, nil)
			require.Error(t, err)
			assert.True(t, config.IsConfigError(err), "%v", err)
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	def := Definition{Name: "x", Build: func(map[string]float64, broker.SizePolicy) (Strategy, error) { return Funcs{Label: "x"}, nil }}
	require.NoError(t, reg.Register(def))
	assert.Error(t, reg.Register(def))
	assert.Error(t, reg.Register(Definition{Name: "y"}))
	assert.Len(t, reg.Definitions(), 1)
}

func TestRSIThresholdDecisions(t *testing.T) {
	s := NewRSIThreshold(2, 30, 70, broker.Units(1))
	feed := feedOf(t, 10, 9, 8, 11, 12)

	flat := replay(t, s, feed, broker.Position{}, false)
	assert.Nil(t, s.OnBar(flat[0]))
	assert.Nil(t, s.OnBar(flat[1]))
	intent := s.OnBar(flat[2])
	require.NotNil(t, intent)
	assert.Equal(t, broker.SideBuy, intent.Side)
	assert.Contains(t, intent.Note, "rsi 0.00")
	assert.Nil(t, s.OnBar(flat[3]), "flat and overbought: nothing to close")

	holding := replay(t, s, feed, broker.Position{Size: 1, AvgPrice: 11}, false)
	intent = s.OnBar(holding[3])
	require.NotNil(t, intent)
	assert.Equal(t, broker.SideSell, intent.Side)
	assert.Equal(t, "close", intent.Size.String())

	pending := replay(t, s, feed, broker.Position{}, true)
	assert.Nil(t, s.OnBar(pending[2]))
}

func TestSMACrossDecisions(t *testing.T) {
	reg := Default()
	s, err := reg.Build("sma_cross", map[string]float64{"fast": 1, "slow": 3}, nil)
	require.NoError(t, err)
	feed := feedOf(t, 10, 10, 10, 12, 13, 9, 8)

	views := replay(t, s, feed, broker.Position{}, false)
	var buys []int
	for i, v := range views {
		if in := s.OnBar(v); in != nil && in.Side == broker.SideBuy {
			buys = append(buys, i)
		}
	}
	assert.Equal(t, []int{3}, buys)

	held := replay(t, s, feed, broker.Position{Size: 1}, false)
	intent := s.OnBar(held[5])
	require.NotNil(t, intent)
	assert.Equal(t, broker.SideSell, intent.Side)
}

func TestViewAccessors(t *testing.T) {
	feed := feedOf(t, 1, 2, 3, 4)
	v := NewView(feed, 2, indicator.Snapshot{}, indicator.Snapshot{}, broker.Position{}, 0, 0, false)

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 3.0, v.Bar().Close)
	b, ok := v.Ago(2)
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Close)
	_, ok = v.Ago(3)
	assert.False(t, ok, "cannot reach before the first bar")
	_, ok = v.Ago(-1)
	assert.False(t, ok, "cannot look ahead")
	assert.Equal(t, []float64{2, 3}, v.Closes(2))
	assert.Equal(t, []float64{1, 2, 3}, v.Closes(0))
}

func TestFuncsAdapter(t *testing.T) {
	var updates []broker.Status
	s := Funcs{
		Label:       "adhoc",
		Decide:      func(View) *broker.Intent { return broker.Buy(broker.Units(1)) },
		OrderUpdate: func(o broker.Order) { updates = append(updates, o.Status()) },
	}
	assert.Equal(t, "adhoc", s.Name())
	assert.NotNil(t, s.OnBar(View{}))
	s.OnOrderUpdate(broker.Order{})
	s.OnTradeClosed(broker.Trade{})
	assert.Equal(t, []broker.Status{broker.StatusSubmitted}, updates)
	assert.Nil(t, Funcs{}.OnBar(View{}))
}

func TestSizeFromConfig(t *testing.T) {
	p, err := SizeFromConfig(config.SizeConfig{Mode: "units", Value: 3})
	require.NoError(t, err)
	assert.Equal(t, "units(3)", p.String())

	p, err = SizeFromConfig(config.SizeConfig{Mode: "percent", Value: 25})
	require.NoError(t, err)
	assert.Equal(t, "percent(25)", p.String())

	p, err = SizeFromConfig(config.SizeConfig{Mode: "all"})
	require.NoError(t, err)
	assert.Equal(t, "percent(100)", p.String())

	_, err = SizeFromConfig(config.SizeConfig{Mode: "kelly"})
	assert.True(t, config.IsConfigError(err))
}
