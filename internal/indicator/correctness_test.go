package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/market"
)

const tol = 1e-9

func randomBars(seed int64, n int) []market.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]market.Bar, n)
	price := 100.0
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.04
		vol := math.Round(rng.Float64() * 1000)
		if rng.Intn(10) == 0 {
			vol = 0
		}
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   open,
			High:   math.Max(open, price) * 1.01,
			Low:    math.Min(open, price) * 0.99,
			Close:  price,
			Volume: vol,
		}
	}
	return bars
}

func closesOf(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func naiveSMA(closes []float64, period int) (float64, bool) {
	if len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

func naiveEMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(values) < period {
		return out
	}
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out[period-1] = prev
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

func naiveRSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}
	var g, l float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			g += d
		} else {
			l -= d
		}
	}
	g /= float64(period)
	l /= float64(period)
	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := math.Max(d, 0), math.Max(-d, 0)
		g = (g*float64(period-1) + gain) / float64(period)
		l = (l*float64(period-1) + loss) / float64(period)
	}
	if l == 0 {
		return 100, true
	}
	return 100 - 100/(1+g/l), true
}

func naiveMACD(closes []float64, fast, slow, signal int) (map[string]float64, bool) {
	if len(closes) < slow+signal {
		return nil, false
	}
	f := naiveEMASeries(closes, fast)
	s := naiveEMASeries(closes, slow)
	line := make([]float64, 0, len(closes))
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, f[i]-s[i])
	}
	sig := naiveEMASeries(line, signal)
	m := line[len(line)-1]
	sg := sig[len(sig)-1]
	return map[string]float64{"macd": m, "signal": sg, "histogram": m - sg}, true
}

func naiveBollinger(closes []float64, period int, k float64) (map[string]float64, bool) {
	mean, ok := naiveSMA(closes, period)
	if !ok {
		return nil, false
	}
	ss := 0.0
	for _, c := range closes[len(closes)-period:] {
		ss += (c - mean) * (c - mean)
	}
	std := math.Sqrt(ss / float64(period))
	return map[string]float64{"mid": mean, "upper": mean + k*std, "lower": mean - k*std}, true
}

func naiveVWAP(bars []market.Bar, period int) (float64, bool) {
	if len(bars) < period {
		return 0, false
	}
	var pv, v float64
	for _, b := range bars[len(bars)-period:] {
		pv += b.Close * b.Volume
		v += b.Volume
	}
	if v == 0 {
		return 0, false
	}
	return pv / v, true
}

func TestIncrementalMatchesNaive(t *testing.T) {
	bars := randomBars(42, 600)
	closes := closesOf(bars)

	for _, period := range []int{1, 2, 5, 14, 50} {
		sma := NewSMA("sma", period)
		ema := NewEMA("ema", period)
		rsi := NewRSI("rsi", period)
		boll := NewBollinger("boll", period, 2)
		vwap := NewVWAP("vwap", period)
		for i, bar := range bars {
			sma.Observe(bar)
			ema.Observe(bar)
			rsi.Observe(bar)
			boll.Observe(bar)
			vwap.Observe(bar)
			hist := closes[:i+1]

			want, wantOK := naiveSMA(hist, period)
			got, gotOK := sma.Value()
			require.Equal(t, wantOK, gotOK, "sma(%d) ready at %d", period, i)
			if wantOK {
				require.True(t, Within(got, want, tol), "sma(%d)[%d] %v != %v", period, i, got, want)
			}

			emaSeries := naiveEMASeries(hist, period)
			got, gotOK = ema.Value()
			require.Equal(t, i >= period-1, gotOK)
			if gotOK {
				require.True(t, Within(got, emaSeries[i], tol), "ema(%d)[%d]", period, i)
			}

			want, wantOK = naiveRSI(hist, period)
			got, gotOK = rsi.Value()
			require.Equal(t, wantOK, gotOK, "rsi(%d) ready at %d", period, i)
			if wantOK {
				require.True(t, Within(got, want, tol), "rsi(%d)[%d] %v != %v", period, i, got, want)
			}

			wantLines, wantOK := naiveBollinger(hist, period, 2)
			require.Equal(t, wantOK, boll.Ready())
			if wantOK {
				for name, v := range boll.Lines() {
					require.True(t, Within(v, wantLines[name], tol), "bollinger(%d).%s[%d] %v != %v", period, name, i, v, wantLines[name])
				}
			}

			want, wantOK = naiveVWAP(bars[:i+1], period)
			got, gotOK = vwap.Value()
			require.Equal(t, wantOK, gotOK, "vwap(%d) ok at %d", period, i)
			if wantOK {
				require.True(t, Within(got, want, tol), "vwap(%d)[%d] %v != %v", period, i, got, want)
			}
		}
	}
}

func TestMACDMatchesNaive(t *testing.T) {
	bars := randomBars(7, 400)
	closes := closesOf(bars)
	for _, p := range [][3]int{{12, 26, 9}, {3, 5, 2}, {1, 2, 1}} {
		m := NewMACD("macd", p[0], p[1], p[2])
		assert.Equal(t, p[1]+p[2], m.WarmupLength())
		for i, bar := range bars {
			m.Observe(bar)
			want, ok := naiveMACD(closes[:i+1], p[0], p[1], p[2])
			require.Equal(t, ok, m.Ready(), "macd%v ready at %d", p, i)
			if !ok {
				_, valueOK := m.Value()
				assert.False(t, valueOK)
				assert.Nil(t, m.Lines())
				continue
			}
			for name, v := range m.Lines() {
				require.True(t, Within(v, want[name], tol), "macd%v.%s[%d]", p, name, i)
			}
			v, _ := m.Value()
			require.True(t, Within(v, want["macd"], tol))
		}
	}
}

func TestRSIKnownSequence(t *testing.T) {
	rsi := NewRSI("rsi", 2)
	closes := []float64{10, 9, 8, 11, 12}
	want := []struct {
		ok bool
		v  float64
	}{{false, 0}, {false, 0}, {true, 0}, {true, 75}, {true, 100 - 100/(1+1.25/0.25)}}
	for i, c := range closes {
		rsi.Observe(market.Bar{Close: c})
		v, ok := rsi.Value()
		require.Equal(t, want[i].ok, ok, "bar %d", i)
		assert.InDelta(t, want[i].v, v, 1e-12, "bar %d", i)
	}
	assert.Equal(t, 3, rsi.WarmupLength())
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	rsi := NewRSI("rsi", 3)
	for _, c := range []float64{1, 2, 3, 4, 5} {
		rsi.Observe(market.Bar{Close: c})
	}
	v, ok := rsi.Value()
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestVWAPZeroVolumeWindow(t *testing.T) {
	v := NewVWAP("vwap", 2)
	for _, vol := range []float64{100, 50, 0, 0} {
		v.Observe(market.Bar{Close: 10, Volume: vol})
	}
	assert.True(t, v.Ready())
	_, ok := v.Value()
	assert.False(t, ok)

	v.Observe(market.Bar{Close: 12, Volume: 10})
	got, ok := v.Value()
	require.True(t, ok)
	assert.InDelta(t, 12.0, got, 1e-12)
}

func TestBollingerConstantSeries(t *testing.T) {
	b := NewBollinger("bb", 4, 2)
	for i := 0; i < 20; i++ {
		b.Observe(market.Bar{Close: 50})
	}
	lines := b.Lines()
	assert.InDelta(t, 50.0, lines["mid"], 1e-12)
	assert.InDelta(t, 50.0, lines["upper"], 1e-9)
	assert.InDelta(t, 50.0, lines["lower"], 1e-9)
}
