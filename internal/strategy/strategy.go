// Package strategy 定义策略运行时接口与内置策略。
package strategy

import (
	"tradesim/internal/broker"
	"tradesim/internal/indicator"
	"tradesim/internal/market"
)

// Strategy decides on each bar from a read-only View and is told about
// order and trade outcomes. It never touches broker state directly.
type Strategy interface {
	Name() string
	// Indicators lists what the strategy reads; the engine registers them
	// before the first bar.
	Indicators() []indicator.Spec
	OnBar(view View) *broker.Intent
	OnOrderUpdate(order broker.Order)
	OnTradeClosed(trade broker.Trade)
}

// View is what a strategy sees on bar Index: bars 0..Index, indicator
// readings for this bar and the previous one, and the account.
type View struct {
	feed  *market.Feed
	index int

	Indicators indicator.Snapshot
	Previous   indicator.Snapshot
	Position   broker.Position
	Cash       float64
	Value      float64
	// Pending is true while an order from this strategy awaits a fill.
	Pending bool
}

// NewView 构建第 index 根 K 线的只读视图。
func NewView(feed *market.Feed, index int, snap, prev indicator.Snapshot, pos broker.Position, cash, value float64, pending bool) View {
	return View{
		feed:       feed,
		index:      index,
		Indicators: snap,
		Previous:   prev,
		Position:   pos,
		Cash:       cash,
		Value:      value,
		Pending:    pending,
	}
}

func (v View) Index() int { return v.index }

// Len is the number of bars revealed so far.
func (v View) Len() int { return v.index + 1 }

func (v View) Bar() market.Bar { return v.feed.At(v.index) }

// Ago returns the bar n steps back; Ago(0) is the current bar.
func (v View) Ago(n int) (market.Bar, bool) {
	i := v.index - n
	if n < 0 || i < 0 {
		return market.Bar{}, false
	}
	return v.feed.At(i), true
}

// Closes copies up to n of the latest closes, oldest first.
func (v View) Closes(n int) []float64 {
	if n <= 0 || n > v.Len() {
		n = v.Len()
	}
	out := make([]float64, 0, n)
	for i := v.index - n + 1; i <= v.index; i++ {
		out = append(out, v.feed.At(i).Close)
	}
	return out
}

// Crossed reports whether series a moved from <= b on the previous bar to
// > b on this one (up) or the reverse (down).
func (v View) Crossed(a, b func(indicator.Snapshot) (float64, bool)) (up, down bool) {
	curA, ok1 := a(v.Indicators)
	curB, ok2 := b(v.Indicators)
	prevA, ok3 := a(v.Previous)
	prevB, ok4 := b(v.Previous)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false, false
	}
	up = prevA <= prevB && curA > curB
	down = prevA >= prevB && curA < curB
	return up, down
}

// Base provides no-op notifications for embedding.
type Base struct{}

func (Base) OnOrderUpdate(broker.Order) {}
func (Base) OnTradeClosed(broker.Trade) {}

// Funcs adapts plain functions to Strategy. Nil callbacks are skipped.
type Funcs struct {
	Label       string
	Specs       []indicator.Spec
	Decide      func(View) *broker.Intent
	OrderUpdate func(broker.Order)
	TradeClosed func(broker.Trade)
}

func (f Funcs) Name() string                   { return f.Label }
func (f Funcs) Indicators() []indicator.Spec   { return f.Specs }
func (f Funcs) OnOrderUpdate(o broker.Order)   { callIf(f.OrderUpdate, o) }
func (f Funcs) OnTradeClosed(t broker.Trade)   { callIf(f.TradeClosed, t) }
func (f Funcs) OnBar(v View) *broker.Intent {
	if f.Decide == nil {
		return nil
	}
	return f.Decide(v)
}

func callIf[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

// SeriesOf reads an indicator's main value from a snapshot.
func SeriesOf(name string) func(indicator.Snapshot) (float64, bool) {
	return func(s indicator.Snapshot) (float64, bool) { return s.Value(name) }
}

// LineOf reads one line of a multi-line indicator.
func LineOf(name, line string) func(indicator.Snapshot) (float64, bool) {
	return func(s indicator.Snapshot) (float64, bool) { return s.Line(name, line) }
}
