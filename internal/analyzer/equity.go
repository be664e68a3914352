package analyzer

import (
	"math"
	"time"
)

// EquityPoint 每根 K 线收盘后的账户净值。
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Cash     float64   `json:"cash"`
	Drawdown float64   `json:"drawdown"`
}

// EquityCurve tracks portfolio value per bar for drawdown and Sharpe.
type EquityCurve struct {
	points      []EquityPoint
	peak        float64
	maxDrawdown float64
}

func NewEquityCurve() *EquityCurve { return &EquityCurve{} }

// Observe appends one point and returns it with its drawdown filled in.
func (c *EquityCurve) Observe(at time.Time, value, cash float64) EquityPoint {
	c.peak = math.Max(c.peak, value)
	dd := 0.0
	if c.peak > 0 {
		dd = (c.peak - value) / c.peak
	}
	c.maxDrawdown = math.Max(c.maxDrawdown, dd)
	p := EquityPoint{Time: at, Value: value, Cash: cash, Drawdown: dd}
	c.points = append(c.points, p)
	return p
}

func (c *EquityCurve) Points() []EquityPoint {
	return append([]EquityPoint(nil), c.points...)
}

// MaxDrawdown is the worst peak-to-trough fall as a fraction of the peak.
func (c *EquityCurve) MaxDrawdown() float64 { return c.maxDrawdown }

// Sharpe annualises the mean/stddev of per-bar returns with a zero
// risk-free rate. It is 0 with fewer than two returns or flat equity.
func (c *EquityCurve) Sharpe(periodsPerYear float64) float64 {
	if len(c.points) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(c.points)-1)
	for i := 1; i < len(c.points); i++ {
		prev := c.points[i-1].Value
		if prev <= 0 {
			continue
		}
		returns = append(returns, c.points[i].Value/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 1
	}
	return mean / std * math.Sqrt(periodsPerYear)
}
