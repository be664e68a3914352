package indicator

import "tradesim/internal/market"

// VWAP over a trailing window: sum(close*volume) / sum(volume).
type VWAP struct {
	name    string
	period  int
	pv      *window
	vol     *window
	pvSum   float64
	volSum  float64
	nonzero int
	count   int
	evicted int
}

func NewVWAP(name string, period int) *VWAP {
	if period < 1 {
		period = 1
	}
	return &VWAP{name: name, period: period, pv: newWindow(period), vol: newWindow(period)}
}

func (v *VWAP) Name() string      { return v.name }
func (v *VWAP) WarmupLength() int { return v.period }
func (v *VWAP) Ready() bool       { return v.count >= v.period }

func (v *VWAP) Observe(bar market.Bar) {
	v.count++
	pv := bar.Close * bar.Volume
	oldPV, full := v.pv.push(pv)
	oldVol, _ := v.vol.push(bar.Volume)
	v.pvSum += pv
	v.volSum += bar.Volume
	if bar.Volume > 0 {
		v.nonzero++
	}
	if !full {
		return
	}
	v.pvSum -= oldPV
	v.volSum -= oldVol
	if oldVol > 0 {
		v.nonzero--
	}
	v.evicted++
	if v.evicted >= v.period {
		v.evicted = 0
		v.pvSum = v.pv.sum()
		v.volSum = v.vol.sum()
	}
}

// Value is not ok while warming up or when the window holds no volume.
func (v *VWAP) Value() (float64, bool) {
	if !v.Ready() || v.nonzero == 0 || v.volSum <= 0 {
		return 0, false
	}
	return v.pvSum / v.volSum, true
}
