package indicator

import "tradesim/internal/market"

// MACD line = EMA(fast) - EMA(slow); signal = EMA(signal) of the MACD line.
// Ready once slow+signal bars have been observed.
type MACD struct {
	name   string
	fast   *EMA
	slow   *EMA
	signal *EMA
	warmup int
	count  int
	macd   float64
}

func NewMACD(name string, fast, slow, signal int) *MACD {
	m := &MACD{
		name:   name,
		fast:   NewEMA(name+".fast", fast),
		slow:   NewEMA(name+".slow", slow),
		signal: NewEMA(name+".signal", signal),
	}
	m.warmup = m.slow.period + m.signal.period
	return m
}

func (m *MACD) Name() string      { return m.name }
func (m *MACD) WarmupLength() int { return m.warmup }
func (m *MACD) Ready() bool       { return m.count >= m.warmup }

func (m *MACD) Observe(bar market.Bar) {
	m.count++
	m.fast.push(bar.Close)
	m.slow.push(bar.Close)
	if !m.slow.Ready() {
		return
	}
	m.macd = m.fast.value - m.slow.value
	m.signal.push(m.macd)
}

// Value returns the MACD line.
func (m *MACD) Value() (float64, bool) {
	if !m.Ready() {
		return 0, false
	}
	return m.macd, true
}

func (m *MACD) Lines() map[string]float64 {
	if !m.Ready() {
		return nil
	}
	return map[string]float64{
		"macd":      m.macd,
		"signal":    m.signal.value,
		"histogram": m.macd - m.signal.value,
	}
}
