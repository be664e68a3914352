package indicator

import "tradesim/internal/market"

// SMA 简单移动平均：最近 period 根收盘价的算术平均。
type SMA struct {
	name    string
	period  int
	win     *window
	sum     float64
	count   int
	evicted int
}

func NewSMA(name string, period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{name: name, period: period, win: newWindow(period)}
}

func (s *SMA) Name() string      { return s.name }
func (s *SMA) WarmupLength() int { return s.period }
func (s *SMA) Ready() bool       { return s.count >= s.period }

func (s *SMA) Observe(bar market.Bar) {
	s.push(bar.Close)
}

func (s *SMA) push(v float64) {
	s.count++
	old, full := s.win.push(v)
	if !full {
		s.sum += v
		return
	}
	s.sum += v - old
	// resync once per full rotation to bound rounding drift
	s.evicted++
	if s.evicted >= s.period {
		s.evicted = 0
		s.sum = s.win.sum()
	}
}

func (s *SMA) Value() (float64, bool) {
	if !s.Ready() {
		return 0, false
	}
	return s.sum / float64(s.period), true
}
