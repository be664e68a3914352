package indicator

import (
	"math"

	"tradesim/internal/market"
)

// Bollinger 布林带：中轨 SMA(period)，上下轨为中轨 ± k 倍总体标准差。
// 均值与 M2 采用滑动 Welford 更新。
type Bollinger struct {
	name    string
	period  int
	k       float64
	win     *window
	mean    float64
	m2      float64
	count   int
	evicted int
}

func NewBollinger(name string, period int, k float64) *Bollinger {
	if period < 1 {
		period = 1
	}
	return &Bollinger{name: name, period: period, k: k, win: newWindow(period)}
}

func (b *Bollinger) Name() string      { return b.name }
func (b *Bollinger) WarmupLength() int { return b.period }
func (b *Bollinger) Ready() bool       { return b.count >= b.period }

func (b *Bollinger) Observe(bar market.Bar) {
	x := bar.Close
	b.count++
	old, full := b.win.push(x)
	if !full {
		n := float64(b.win.len())
		delta := x - b.mean
		b.mean += delta / n
		b.m2 += delta * (x - b.mean)
		return
	}
	n := float64(b.period)
	prevMean := b.mean
	b.mean += (x - old) / n
	b.m2 += (x - old) * (x - b.mean + old - prevMean)
	b.evicted++
	if b.evicted >= b.period {
		b.evicted = 0
		b.resync()
	}
}

func (b *Bollinger) resync() {
	n := float64(b.win.len())
	mean := b.win.sum() / n
	m2 := 0.0
	b.win.each(func(v float64) {
		d := v - mean
		m2 += d * d
	})
	b.mean, b.m2 = mean, m2
}

func (b *Bollinger) std() float64 {
	v := b.m2 / float64(b.period)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Value returns the middle band.
func (b *Bollinger) Value() (float64, bool) {
	if !b.Ready() {
		return 0, false
	}
	return b.mean, true
}

func (b *Bollinger) Lines() map[string]float64 {
	if !b.Ready() {
		return nil
	}
	dev := b.k * b.std()
	return map[string]float64{
		"mid":   b.mean,
		"upper": b.mean + dev,
		"lower": b.mean - dev,
	}
}
