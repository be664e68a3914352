package indicator

import "tradesim/internal/market"

// RSI 相对强弱指标，Wilder 平滑，首个均值为前 period 个涨跌幅的 SMA。
// 需要 period 个价格变化，即 period+1 根 K 线。
type RSI struct {
	name      string
	period    int
	prevClose float64
	count     int
	gainSum   float64
	lossSum   float64
	avgGain   float64
	avgLoss   float64
}

func NewRSI(name string, period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{name: name, period: period}
}

func (r *RSI) Name() string { return r.name }

// WarmupLength 比 period 多一根：第一根 bar 只提供前收盘价，第一个涨跌从第二根开始。
func (r *RSI) WarmupLength() int { return r.period + 1 }
func (r *RSI) Ready() bool       { return r.count > r.period }

func (r *RSI) Observe(bar market.Bar) {
	r.count++
	if r.count == 1 {
		r.prevClose = bar.Close
		return
	}
	change := bar.Close - r.prevClose
	r.prevClose = bar.Close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	deltas := r.count - 1
	if deltas <= r.period {
		r.gainSum += gain
		r.lossSum += loss
		if deltas == r.period {
			r.avgGain = r.gainSum / float64(r.period)
			r.avgLoss = r.lossSum / float64(r.period)
		}
		return
	}
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

func (r *RSI) Value() (float64, bool) {
	if !r.Ready() {
		return 0, false
	}
	return rsiValue(r.avgGain, r.avgLoss), true
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
