package indicator

import "tradesim/internal/market"

// EMA 指数移动平均，以前 period 个值的 SMA 作为种子。
type EMA struct {
	name   string
	period int
	alpha  float64
	seed   float64
	value  float64
	count  int
}

func NewEMA(name string, period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{name: name, period: period, alpha: 2.0 / float64(period+1)}
}

func (e *EMA) Name() string      { return e.name }
func (e *EMA) WarmupLength() int { return e.period }
func (e *EMA) Ready() bool       { return e.count >= e.period }

func (e *EMA) Observe(bar market.Bar) {
	e.push(bar.Close)
}

func (e *EMA) push(v float64) {
	e.count++
	switch {
	case e.count < e.period:
		e.seed += v
	case e.count == e.period:
		e.seed += v
		e.value = e.seed / float64(e.period)
	default:
		e.value = e.alpha*v + (1-e.alpha)*e.value
	}
}

func (e *EMA) Value() (float64, bool) {
	if !e.Ready() {
		return 0, false
	}
	return e.value, true
}
