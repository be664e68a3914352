package strategy

import (
	"fmt"

	"tradesim/internal/broker"
	"tradesim/internal/indicator"
	"tradesim/internal/logger"
)

func builtins() []Definition {
	return []Definition{
		{
			Name:        "rsi",
			Description: "buy when RSI drops below low while flat, close when it rises above high",
			Schema: objectSchema(map[string]any{
				"rsi_period": intSchema(1),
				"low":        rangeSchema(0, 100),
				"high":       rangeSchema(0, 100),
				"sma_fast":   intSchema(1),
				"sma_slow":   intSchema(1),
			}),
			Defaults: map[string]float64{"rsi_period": 14, "low": 30, "high": 70, "sma_fast": 14, "sma_slow": 50},
			Build:    newRSIThreshold,
		},
		{
			Name:        "sma_cross",
			Description: "buy when the fast SMA crosses above the slow SMA, close on the cross back",
			Schema: objectSchema(map[string]any{
				"fast": intSchema(1),
				"slow": intSchema(2),
			}),
			Defaults: map[string]float64{"fast": 14, "slow": 50},
			Build:    newSMACross,
		},
		{
			Name:        "macd_cross",
			Description: "buy when the MACD line crosses above its signal, close on the cross back",
			Schema: objectSchema(map[string]any{
				"fast":   intSchema(1),
				"slow":   intSchema(2),
				"signal": intSchema(1),
			}),
			Defaults: map[string]float64{"fast": 12, "slow": 26, "signal": 9},
			Build:    newMACDCross,
		},
	}
}

type rsiParams struct {
	Period  int     `param:"rsi_period"`
	Low     float64 `param:"low"`
	High    float64 `param:"high"`
	SMAFast int     `param:"sma_fast"`
	SMASlow int     `param:"sma_slow"`
}

// RSIThreshold 超卖买入、超买平仓；同一时间只持有一笔未决订单。
type RSIThreshold struct {
	Base
	p    rsiParams
	size broker.SizePolicy
}

func newRSIThreshold(params map[string]float64, size broker.SizePolicy) (Strategy, error) {
	var p rsiParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Low >= p.High {
		return nil, fmt.Errorf("low %.2f must be below high %.2f", p.Low, p.High)
	}
	return &RSIThreshold{p: p, size: size}, nil
}

// NewRSIThreshold builds the strategy directly, bypassing the registry.
func NewRSIThreshold(period int, low, high float64, size broker.SizePolicy) *RSIThreshold {
	return &RSIThreshold{p: rsiParams{Period: period, Low: low, High: high}, size: size}
}

func (s *RSIThreshold) Name() string { return "rsi" }

func (s *RSIThreshold) Indicators() []indicator.Spec {
	specs := []indicator.Spec{{Name: "rsi", Kind: indicator.KindRSI, Params: map[string]float64{"period": float64(s.p.Period)}}}
	if s.p.SMAFast > 0 {
		specs = append(specs, indicator.Spec{Name: "sma_fast", Kind: indicator.KindSMA, Params: map[string]float64{"period": float64(s.p.SMAFast)}})
	}
	if s.p.SMASlow > 0 {
		specs = append(specs, indicator.Spec{Name: "sma_slow", Kind: indicator.KindSMA, Params: map[string]float64{"period": float64(s.p.SMASlow)}})
	}
	return specs
}

func (s *RSIThreshold) OnBar(v View) *broker.Intent {
	if v.Pending {
		return nil
	}
	rsi, ok := v.Indicators.Value("rsi")
	if !ok {
		return nil
	}
	switch {
	case v.Position.Flat() && rsi < s.p.Low:
		return broker.Buy(s.size).WithNote(fmt.Sprintf("rsi %.2f < %.2f", rsi, s.p.Low))
	case !v.Position.Flat() && rsi > s.p.High:
		return broker.Sell(broker.ClosePosition()).WithNote(fmt.Sprintf("rsi %.2f > %.2f", rsi, s.p.High))
	}
	return nil
}

func (s *RSIThreshold) OnOrderUpdate(o broker.Order) {
	if o.Status() == broker.StatusMargin || o.Status() == broker.StatusRejected {
		logger.Debugf("[rsi] order %d %s: %s", o.ID, o.Status(), o.Reason)
	}
}

type smaCrossParams struct {
	Fast int `param:"fast"`
	Slow int `param:"slow"`
}

// SMACross 均线金叉买入，死叉平仓。
type SMACross struct {
	Base
	p    smaCrossParams
	size broker.SizePolicy
}

func newSMACross(params map[string]float64, size broker.SizePolicy) (Strategy, error) {
	var p smaCrossParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("fast %d must be below slow %d", p.Fast, p.Slow)
	}
	return &SMACross{p: p, size: size}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Indicators() []indicator.Spec {
	return []indicator.Spec{
		{Name: "fast", Kind: indicator.KindSMA, Params: map[string]float64{"period": float64(s.p.Fast)}},
		{Name: "slow", Kind: indicator.KindSMA, Params: map[string]float64{"period": float64(s.p.Slow)}},
	}
}

func (s *SMACross) OnBar(v View) *broker.Intent {
	if v.Pending {
		return nil
	}
	up, down := v.Crossed(SeriesOf("fast"), SeriesOf("slow"))
	switch {
	case up && v.Position.Flat():
		return broker.Buy(s.size).WithNote("fast sma crossed above slow")
	case down && !v.Position.Flat():
		return broker.Sell(broker.ClosePosition()).WithNote("fast sma crossed below slow")
	}
	return nil
}

type macdParams struct {
	Fast   int `param:"fast"`
	Slow   int `param:"slow"`
	Signal int `param:"signal"`
}

type MACDCross struct {
	Base
	p    macdParams
	size broker.SizePolicy
}

func newMACDCross(params map[string]float64, size broker.SizePolicy) (Strategy, error) {
	var p macdParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("fast %d must be below slow %d", p.Fast, p.Slow)
	}
	return &MACDCross{p: p, size: size}, nil
}

func (s *MACDCross) Name() string { return "macd_cross" }

func (s *MACDCross) Indicators() []indicator.Spec {
	return []indicator.Spec{{
		Name:   "macd",
		Kind:   indicator.KindMACD,
		Params: map[string]float64{"fast": float64(s.p.Fast), "slow": float64(s.p.Slow), "signal": float64(s.p.Signal)},
	}}
}

func (s *MACDCross) OnBar(v View) *broker.Intent {
	if v.Pending {
		return nil
	}
	up, down := v.Crossed(LineOf("macd", "macd"), LineOf("macd", "signal"))
	switch {
	case up && v.Position.Flat():
		return broker.Buy(s.size).WithNote("macd crossed above signal")
	case down && !v.Position.Flat():
		return broker.Sell(broker.ClosePosition()).WithNote("macd crossed below signal")
	}
	return nil
}
