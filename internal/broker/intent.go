package broker

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// SizeContext is what a SizePolicy may look at when the order is sized.
type SizeContext struct {
	Price          float64
	Cash           float64
	CommissionRate float64
	Held           float64
}

// SizePolicy turns an intent into a concrete size at fill time.
type SizePolicy interface {
	Units(ctx SizeContext) float64
	String() string
}

// Intent 策略每根 K 线至多产生一个下单意图。
type Intent struct {
	Side Side
	Size SizePolicy
	Note string
}

func Buy(size SizePolicy) *Intent  { return &Intent{Side: SideBuy, Size: size} }
func Sell(size SizePolicy) *Intent { return &Intent{Side: SideSell, Size: size} }

// WithNote attaches a free-form reason that ends up in the event log.
func (i *Intent) WithNote(note string) *Intent {
	i.Note = note
	return i
}

type fixedUnits float64

// Units always sizes n units.
func Units(n float64) SizePolicy { return fixedUnits(n) }

func (u fixedUnits) Units(SizeContext) float64 { return float64(u) }
func (u fixedUnits) String() string           { return fmt.Sprintf("units(%g)", float64(u)) }

type cashPercent float64

// CashPercent sizes the largest whole number of units whose cost including
// commission fits in pct percent of the available cash.
func CashPercent(pct float64) SizePolicy { return cashPercent(pct) }

func (p cashPercent) Units(ctx SizeContext) float64 {
	if ctx.Price <= 0 || p <= 0 || ctx.Cash <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(ctx.Cash).Mul(decimal.NewFromFloat(float64(p))).Div(decimal.NewFromInt(100))
	unitCost := decimal.NewFromFloat(ctx.Price).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(ctx.CommissionRate)))
	return budget.Div(unitCost).Floor().InexactFloat64()
}

func (p cashPercent) String() string { return fmt.Sprintf("percent(%g)", float64(p)) }

type closePosition struct{}

// ClosePosition sizes the whole current position.
func ClosePosition() SizePolicy { return closePosition{} }

func (closePosition) Units(ctx SizeContext) float64 { return math.Abs(ctx.Held) }
func (closePosition) String() string                { return "close" }
