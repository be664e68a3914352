// Package broker 模拟撮合与账户：现金、持仓、手续费与订单状态机。
package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/config"
	"tradesim/internal/market"
)

// Config 经纪商参数。
type Config struct {
	StartingCash   float64
	CommissionRate float64
}

func (c Config) validate() error {
	if math.IsNaN(c.StartingCash) || math.IsInf(c.StartingCash, 0) || c.StartingCash <= 0 {
		return config.Invalid("starting_cash", "must be finite and > 0, got %v", c.StartingCash)
	}
	if math.IsNaN(c.CommissionRate) || math.IsInf(c.CommissionRate, 0) || c.CommissionRate < 0 {
		return config.Invalid("commission_rate", "must be >= 0, got %v", c.CommissionRate)
	}
	return nil
}

// Fill is the outcome of resolving the pending order on a bar.
type Fill struct {
	Order Order
	// Trade is set when the fill returned the position to flat.
	Trade *Trade
}

// Broker owns cash, position and orders. It is not safe for concurrent use;
// the engine loop serialises every call.
type Broker struct {
	cfg       Config
	rate      decimal.Decimal
	cash      decimal.Decimal
	position  positionState
	lastClose float64

	pending       int
	pendingIntent Intent
	orders        []Order
	nextID        OrderID

	trade    *openTrade
	tradeSeq int
}

func New(cfg Config) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Broker{
		cfg:     cfg,
		rate:    decimal.NewFromFloat(cfg.CommissionRate),
		cash:    decimal.NewFromFloat(cfg.StartingCash),
		pending: -1,
	}, nil
}

func (b *Broker) Cash() float64 { return b.cash.InexactFloat64() }

func (b *Broker) Position() Position { return b.position.view() }

// Value is cash plus the position marked at the latest close.
func (b *Broker) Value() float64 {
	if b.position.size.IsZero() {
		return b.Cash()
	}
	mark := decimal.NewFromFloat(b.lastClose)
	return b.cash.Add(b.position.size.Mul(mark)).InexactFloat64()
}

// Mark records the latest close for Value.
func (b *Broker) Mark(close float64) { b.lastClose = close }

func (b *Broker) CommissionRate() float64 { return b.cfg.CommissionRate }

func (b *Broker) Pending() (Order, bool) {
	if b.pending < 0 {
		return Order{}, false
	}
	return b.copyOrder(b.orders[b.pending]), true
}

// HasPending 是否存在未决订单。
func (b *Broker) HasPending() bool { return b.pending >= 0 }

// takePending detaches the pending order for resolution.
func (b *Broker) takePending() (*Order, Intent) {
	order := &b.orders[b.pending]
	intent := b.pendingIntent
	b.pending = -1
	b.pendingIntent = Intent{}
	return order, intent
}

// Orders returns every order in submission order.
func (b *Broker) Orders() []Order {
	out := make([]Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = b.copyOrder(o)
	}
	return out
}

func (b *Broker) copyOrder(o Order) Order {
	o.history = append([]Status(nil), o.history...)
	return o
}

func (b *Broker) sizeContext(price float64) SizeContext {
	return SizeContext{
		Price:          price,
		Cash:           b.Cash(),
		CommissionRate: b.cfg.CommissionRate,
		Held:           b.position.size.InexactFloat64(),
	}
}

// Submit registers intent, observed on the bar at index. The order is
// accepted and stays pending until Resolve sees a later bar. Invalid
// sizes are rejected on the spot and never become pending.
func (b *Broker) Submit(intent Intent, index int, bar market.Bar) (Order, error) {
	if b.pending >= 0 {
		return Order{}, fmt.Errorf("%w: order %d", ErrPendingOrder, b.orders[b.pending].ID)
	}
	if intent.Size == nil {
		intent.Size = Units(0)
	}
	b.nextID++
	order := newOrder(b.nextID, intent, index, bar.Time)
	order.Requested = intent.Size.Units(b.sizeContext(bar.Close))

	if err := b.checkSize(intent.Side, order.Requested); err != nil {
		order.Reason = err.Error()
		order.ResolvedIndex = index
		order.ResolvedAt = bar.Time
		if terr := order.transition(StatusRejected); terr != nil {
			return Order{}, terr
		}
		b.orders = append(b.orders, order)
		return b.copyOrder(order), nil
	}
	if err := order.transition(StatusAccepted); err != nil {
		return Order{}, err
	}
	b.orders = append(b.orders, order)
	b.pending = len(b.orders) - 1
	b.pendingIntent = intent
	return b.copyOrder(order), nil
}

func (b *Broker) checkSize(side Side, size float64) error {
	if side != SideBuy && side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidSize, side)
	}
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSize, size)
	}
	// long only: a sell may not exceed the holding
	if side == SideSell {
		held := b.position.size.InexactFloat64()
		if size > held {
			return fmt.Errorf("%w: sell %v exceeds position %v", ErrInvalidSize, size, held)
		}
	}
	return nil
}

// Due reports whether the pending order may be resolved on bar index.
// Orders are never resolved on the bar that produced them.
func (b *Broker) Due(index int) bool {
	return b.pending >= 0 && index > b.orders[b.pending].SubmittedIndex
}

// Resolve fills the pending order at bar.Open if it is due. Cash and
// position change together, or not at all.
func (b *Broker) Resolve(index int, bar market.Bar) (Fill, bool) {
	if !b.Due(index) {
		return Fill{}, false
	}
	order, intent := b.takePending()
	order.ResolvedIndex = index
	order.ResolvedAt = bar.Time

	price := bar.Open
	size := intent.Size.Units(b.sizeContext(price))
	if err := b.checkSize(order.Side, size); err != nil {
		order.Reason = err.Error()
		_ = order.transition(StatusRejected)
		return Fill{Order: b.copyOrder(*order)}, true
	}

	p := decimal.NewFromFloat(price)
	s := decimal.NewFromFloat(size)
	notional := p.Mul(s)
	commission := notional.Mul(b.rate)

	var trade *Trade
	switch order.Side {
	case SideBuy:
		required := notional.Add(commission)
		if required.GreaterThan(b.cash) {
			merr := &MarginError{Required: required.InexactFloat64(), Available: b.Cash()}
			order.Reason = merr.Error()
			_ = order.transition(StatusMargin)
			return Fill{Order: b.copyOrder(*order)}, true
		}
		b.cash = b.cash.Sub(required)
		b.applyBuy(s, p, commission, index, bar.Time)
	case SideSell:
		b.cash = b.cash.Add(notional.Sub(commission))
		trade = b.applySell(s, p, commission, index, bar.Time)
	}
	order.Size = size
	order.FillPrice = price
	order.Commission = commission.InexactFloat64()
	_ = order.transition(StatusCompleted)
	return Fill{Order: b.copyOrder(*order), Trade: trade}, true
}

func (b *Broker) applyBuy(size, price, commission decimal.Decimal, index int, at time.Time) {
	newSize := b.position.size.Add(size)
	cost := b.position.size.Mul(b.position.avg).Add(size.Mul(price))
	b.position = positionState{size: newSize, avg: cost.Div(newSize)}
	if b.trade == nil {
		b.trade = &openTrade{openIndex: index, openedAt: at}
	}
	b.trade.entrySize = b.trade.entrySize.Add(size)
	b.trade.entryValue = b.trade.entryValue.Add(size.Mul(price))
	b.trade.commission = b.trade.commission.Add(commission)
}

func (b *Broker) applySell(size, price, commission decimal.Decimal, index int, at time.Time) *Trade {
	b.position.size = b.position.size.Sub(size)
	if b.trade == nil {
		b.trade = &openTrade{openIndex: index, openedAt: at}
	}
	b.trade.exitSize = b.trade.exitSize.Add(size)
	b.trade.exitValue = b.trade.exitValue.Add(size.Mul(price))
	b.trade.commission = b.trade.commission.Add(commission)
	if !b.position.size.IsZero() {
		return nil
	}
	b.position = positionState{}
	b.tradeSeq++
	tr := b.trade.close(b.tradeSeq, index, at)
	b.trade = nil
	return &tr
}

// Cancel moves the pending order to Canceled without touching the account.
func (b *Broker) Cancel(index int, at time.Time, reason error) (Order, bool) {
	if b.pending < 0 {
		return Order{}, false
	}
	order, _ := b.takePending()
	order.ResolvedIndex = index
	order.ResolvedAt = at
	if reason != nil {
		order.Reason = reason.Error()
	}
	_ = order.transition(StatusCanceled)
	return b.copyOrder(*order), true
}
