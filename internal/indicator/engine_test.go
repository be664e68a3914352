package indicator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/market"
)

func standardSpecs() []Spec {
	return []Spec{
		{Kind: KindSMA, Params: map[string]float64{"period": 14}},
		{Kind: KindRSI, Params: map[string]float64{"period": 14}},
		{Kind: KindMACD, Params: map[string]float64{"fast": 12, "slow": 26, "signal": 9}},
		{Kind: "bbands", Params: map[string]float64{"period": 20, "k": 2}},
		{Kind: KindVWAP, Params: map[string]float64{"period": 10}},
		{Name: "trend", Kind: KindEMA, Params: map[string]float64{"period": 50}},
	}
}

func TestNewFromSpec(t *testing.T) {
	ind, err := New(Spec{Kind: "RSI", Params: map[string]float64{"period": 14}})
	require.NoError(t, err)
	assert.Equal(t, "rsi_14", ind.Name())
	assert.Equal(t, 15, ind.WarmupLength())

	ind, err = New(Spec{Kind: KindBollinger, Params: map[string]float64{"period": 20, "k": 2.5}})
	require.NoError(t, err)
	assert.Equal(t, "bollinger_20_2.5", ind.Name())

	bad := []Spec{
		{Kind: "ichimoku"},
		{Kind: KindSMA},
		{Kind: KindSMA, Params: map[string]float64{"period": 0}},
		{Kind: KindSMA, Params: map[string]float64{"period": 2.5}},
		{Kind: KindMACD, Params: map[string]float64{"fast": 26, "slow": 12, "signal": 9}},
		{Kind: KindBollinger, Params: map[string]float64{"period": 20}},
	}
	for _, spec := range bad {
		_, err := New(spec)
		assert.ErrorIs(t, err, ErrInvalidSpec, "%+v", spec)
	}
}

func TestEngineRejectsDuplicatesAndLateAdds(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddSpec(Spec{Name: "fast", Kind: KindSMA, Params: map[string]float64{"period": 3}}))
	assert.ErrorIs(t, e.AddSpec(Spec{Name: "fast", Kind: KindEMA, Params: map[string]float64{"period": 3}}), ErrInvalidSpec)

	require.NoError(t, e.Observe(context.Background(), market.Bar{Close: 1}))
	err := e.AddSpec(Spec{Name: "slow", Kind: KindSMA, Params: map[string]float64{"period": 5}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Equal(t, []string{"fast"}, e.Names())
	assert.Equal(t, 1, e.Observed())
}

func TestParallelObserveMatchesSequential(t *testing.T) {
	seq := NewEngine()
	par := NewEngine(WithParallel(true))
	for _, spec := range standardSpecs() {
		require.NoError(t, seq.AddSpec(spec))
		require.NoError(t, par.AddSpec(spec))
	}
	assert.Equal(t, 50, seq.MaxWarmup())

	ctx := context.Background()
	for _, bar := range randomBars(3, 120) {
		require.NoError(t, seq.Observe(ctx, bar))
		require.NoError(t, par.Observe(ctx, bar))
		assert.Equal(t, seq.Snapshot().Values(), par.Snapshot().Values())
	}
}

func TestSnapshotNotReadySentinel(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.AddSpec(Spec{Name: "rsi", Kind: KindRSI, Params: map[string]float64{"period": 3}}))
	require.NoError(t, e.AddSpec(Spec{Name: "macd", Kind: KindMACD, Params: map[string]float64{"fast": 2, "slow": 3, "signal": 2}}))

	ctx := context.Background()
	require.NoError(t, e.Observe(ctx, market.Bar{Close: 10}))
	snap := e.Snapshot()

	_, err := snap.Get("rsi")
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Observed)
	assert.Equal(t, 4, se.Warmup)

	_, ok := snap.Value("rsi")
	assert.False(t, ok)
	_, err = snap.Get("nope")
	assert.ErrorIs(t, err, ErrUnknown)
	assert.False(t, snap.Ready("rsi", "macd"))
	assert.Empty(t, snap.Values())

	for _, c := range []float64{11, 12, 11, 13} {
		require.NoError(t, e.Observe(ctx, market.Bar{Close: c}))
	}
	snap = e.Snapshot()
	assert.True(t, snap.Ready("rsi", "macd"))
	hist, ok := snap.Line("macd", "histogram")
	require.True(t, ok)
	m, _ := snap.Line("macd", "macd")
	s, _ := snap.Line("macd", "signal")
	assert.InDelta(t, m-s, hist, 1e-12)
	assert.Contains(t, snap.Values(), "macd.signal")
	assert.Equal(t, []string{"macd", "rsi"}, snap.Names())
}
