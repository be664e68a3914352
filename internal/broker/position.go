package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a read-only copy of the broker's holding.
type Position struct {
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avg_price"`
}

func (p Position) Flat() bool { return p.Size == 0 }

// Trade 一次完整的开平仓往返，平仓后不可变。
type Trade struct {
	ID         int       `json:"id"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	GrossPnL   float64   `json:"gross_pnl"`
	NetPnL     float64   `json:"net_pnl"`
	Commission float64   `json:"commission"`
	BarLen     int       `json:"bar_len"`
	OpenIndex  int       `json:"open_index"`
	CloseIndex int       `json:"close_index"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// ReturnPct is net pnl relative to the entry notional.
func (t Trade) ReturnPct() float64 {
	notional := t.EntryPrice * t.Size
	if notional == 0 {
		return 0
	}
	return t.NetPnL / notional
}

type positionState struct {
	size decimal.Decimal
	avg  decimal.Decimal
}

func (p positionState) view() Position {
	return Position{Size: p.size.InexactFloat64(), AvgPrice: p.avg.InexactFloat64()}
}

// openTrade accumulates fills between leaving and returning to flat.
type openTrade struct {
	openIndex  int
	openedAt   time.Time
	entrySize  decimal.Decimal
	entryValue decimal.Decimal
	exitSize   decimal.Decimal
	exitValue  decimal.Decimal
	commission decimal.Decimal
}

func (t *openTrade) close(id, index int, at time.Time) Trade {
	gross := t.exitValue.Sub(t.entryValue)
	net := gross.Sub(t.commission)
	tr := Trade{
		ID:         id,
		Size:       t.entrySize.InexactFloat64(),
		GrossPnL:   gross.InexactFloat64(),
		NetPnL:     net.InexactFloat64(),
		Commission: t.commission.InexactFloat64(),
		BarLen:     index - t.openIndex,
		OpenIndex:  t.openIndex,
		CloseIndex: index,
		OpenedAt:   t.openedAt,
		ClosedAt:   at,
	}
	if t.entrySize.IsPositive() {
		tr.EntryPrice = t.entryValue.Div(t.entrySize).InexactFloat64()
	}
	if t.exitSize.IsPositive() {
		tr.ExitPrice = t.exitValue.Div(t.exitSize).InexactFloat64()
	}
	return tr
}
