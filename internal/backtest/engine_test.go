package backtest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/broker"
	"tradesim/internal/config"
	"tradesim/internal/indicator"
	"tradesim/internal/market"
	"tradesim/internal/strategy"
)

var day0 = time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)

func makeFeed(t *testing.T, opens, closes []float64) *market.Feed {
	t.Helper()
	require.Len(t, opens, len(closes))
	bars := make([]market.Bar, len(closes))
	for i := range closes {
		bars[i] = market.Bar{
			Time:   day0.AddDate(0, 0, i),
			Open:   opens[i],
			High:   math.Max(opens[i], closes[i]) + 1,
			Low:    math.Min(opens[i], closes[i]) / 2,
			Close:  closes[i],
			Volume: 100,
		}
	}
	feed, err := market.Load("TEST", bars)
	require.NoError(t, err)
	return feed
}

func runEngine(t *testing.T, cfg EngineConfig) *Result {
	t.Helper()
	eng, err := NewEngine(cfg)
	require.NoError(t, err)
	res, err := eng.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestRSITwoEndToEnd(t *testing.T) {
	feed := makeFeed(t, []float64{10, 10, 9, 8.5, 11.5}, []float64{10, 9, 8, 11, 12})
	res := runEngine(t, EngineConfig{
		Feed:     feed,
		Strategy: strategy.NewRSIThreshold(2, 30, 70, broker.Units(1)),
		Broker:   broker.Config{StartingCash: 1000, CommissionRate: 0},
	})

	require.Len(t, res.Orders, 2)
	buy, sell := res.Orders[0], res.Orders[1]
	assert.Equal(t, broker.SideBuy, buy.Side)
	assert.Equal(t, broker.StatusCompleted, buy.Status())
	assert.Equal(t, 2, buy.SubmittedIndex)
	assert.Equal(t, 3, buy.ResolvedIndex)
	assert.Equal(t, 8.5, buy.FillPrice)

	assert.Equal(t, broker.SideSell, sell.Side)
	assert.Equal(t, broker.StatusCompleted, sell.Status())
	assert.Equal(t, 3, sell.SubmittedIndex)
	assert.Equal(t, 4, sell.ResolvedIndex)
	assert.Equal(t, 11.5, sell.FillPrice)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.InDelta(t, (sell.FillPrice-buy.FillPrice)*1, tr.NetPnL, 1e-9)
	assert.Equal(t, 1, tr.BarLen)

	r := res.Report
	assert.Equal(t, 1000.0, r.StartingValue)
	assert.InDelta(t, 1003.0, r.EndingValue, 1e-9)
	assert.Equal(t, 1, r.TotalTrades)
	assert.Equal(t, 1, r.Won)
	assert.Zero(t, r.Lost)
	assert.InDelta(t, 3.0, r.TotalNetProfit, 1e-9)
	assert.InDelta(t, 3.0, r.AverageProfitPerTrade, 1e-9)
	assert.InDelta(t, 1.0, r.AverageTradeLength, 1e-9)
	assert.Equal(t, 5, r.Bars)
	assert.Equal(t, "TEST", r.Symbol)
	assert.Len(t, res.Equity, 5)
}

func TestNoLookAheadAndSinglePending(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	feed := makeFeed(t, closes, closes)
	var seen []int
	pendingAtOnce := 0
	strat := strategy.Funcs{
		Label: "always",
		Decide: func(v strategy.View) *broker.Intent {
			seen = append(seen, v.Len())
			last, ok := v.Ago(0)
			require.True(t, ok)
			assert.Equal(t, feed.At(v.Index()).Time, last.Time)
			if v.Pending {
				pendingAtOnce++
			}
			return broker.Buy(broker.Units(1))
		},
	}
	res := runEngine(t, EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 1e6}})

	for i, n := range seen {
		assert.Equal(t, i+1, n, "view must only reveal bars up to the current one")
	}
	for _, o := range res.Orders {
		if o.Status() == broker.StatusCompleted {
			assert.Greater(t, o.ResolvedIndex, o.SubmittedIndex)
			assert.True(t, o.ResolvedAt.After(o.SubmittedAt))
		}
	}
	// resolve happens before OnBar so a new order can go in on every bar
	assert.Len(t, res.Orders, len(closes))
	assert.Zero(t, pendingAtOnce)
	last := res.Orders[len(res.Orders)-1]
	assert.Equal(t, broker.StatusCanceled, last.Status())
	assert.Equal(t, 1, res.Report.Extras.Canceled)
}

func TestJournalMirrorsResultEvents(t *testing.T) {
	closes := []float64{10, 11, 12, 13}
	feed := makeFeed(t, closes, closes)
	calls := 0
	strat := strategy.Funcs{
		Label: "early",
		Decide: func(v strategy.View) *broker.Intent {
			calls++
			if v.Index() <= 1 {
				return broker.Buy(broker.Units(1))
			}
			return nil
		},
	}
	journal := NewJournal()
	res := runEngine(t, EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 1e6}, Sink: journal})
	assert.Equal(t, 4, calls)
	// bar 1 resolves the first order before the strategy submits again
	assert.Len(t, res.Orders, 2)
	assert.Zero(t, res.Report.Extras.IgnoredIntents)
	assert.Equal(t, res.Events, journal.Events())
}

func TestMarginLeavesAccountUntouched(t *testing.T) {
	closes := []float64{10, 10, 10}
	feed := makeFeed(t, closes, closes)
	var updates []broker.Status
	strat := strategy.Funcs{
		Label:       "greedy",
		OrderUpdate: func(o broker.Order) { updates = append(updates, o.Status()) },
		Decide: func(v strategy.View) *broker.Intent {
			if v.Index() == 0 {
				return broker.Buy(broker.Units(20))
			}
			return nil
		},
	}
	res := runEngine(t, EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 100}})

	require.Len(t, res.Orders, 1)
	o := res.Orders[0]
	assert.Equal(t, broker.StatusMargin, o.Status())
	assert.Contains(t, o.Reason, "insufficient cash")
	assert.Equal(t, []broker.Status{broker.StatusAccepted, broker.StatusMargin}, updates)
	assert.Equal(t, 100.0, res.Report.EndingValue)
	assert.Zero(t, res.Report.TotalTrades)
	assert.Equal(t, 1, res.Report.Extras.Margin)
}

func TestExhaustionCancelsPendingOrder(t *testing.T) {
	closes := []float64{10, 11, 12}
	feed := makeFeed(t, closes, closes)
	strat := strategy.Funcs{
		Label: "late",
		Decide: func(v strategy.View) *broker.Intent {
			if v.Index() == 2 {
				return broker.Buy(broker.Units(1))
			}
			return nil
		},
	}
	res := runEngine(t, EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 500, CommissionRate: 0.01}})

	require.Len(t, res.Orders, 1)
	o := res.Orders[0]
	assert.Equal(t, broker.StatusCanceled, o.Status())
	assert.Equal(t, []broker.Status{broker.StatusSubmitted, broker.StatusAccepted, broker.StatusCanceled}, o.History())
	assert.Equal(t, 500.0, res.Report.EndingValue)
	assert.Equal(t, broker.ErrExhausted.Error(), o.Reason)

	last := res.Events[len(res.Events)-1]
	assert.Equal(t, EventOrderResolved, last.Kind)
	assert.Equal(t, "Canceled", last.Payload["status"])
}

func TestEventsAreOrderedAndSinkFailureIsNotFatal(t *testing.T) {
	feed := makeFeed(t, []float64{10, 10, 9, 8.5, 11.5}, []float64{10, 9, 8, 11, 12})
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("disk full") })
	res := runEngine(t, EngineConfig{
		Feed:     feed,
		Strategy: strategy.NewRSIThreshold(2, 30, 70, broker.Units(1)),
		Broker:   broker.Config{StartingCash: 1000},
		Sink:     failing,
	})
	kinds := make([]EventKind, 0, len(res.Events))
	for i, ev := range res.Events {
		assert.Equal(t, i+1, ev.Seq)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{
		EventOrderSubmitted,
		EventOrderResolved,
		EventOrderSubmitted,
		EventOrderResolved,
		EventTradeClosed,
	}, kinds)
	assert.Equal(t, 1, res.Report.TotalTrades)
}

func TestFatalErrorsReturnNoReport(t *testing.T) {
	feed := makeFeed(t, []float64{1, 2}, []float64{1, 2})
	strat := strategy.NewRSIThreshold(2, 30, 70, broker.Units(1))

	_, err := NewEngine(EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 100, CommissionRate: -0.1}})
	assert.True(t, config.IsConfigError(err))

	_, err = NewEngine(EngineConfig{Feed: feed, Strategy: strat, Broker: broker.Config{StartingCash: 0}})
	assert.True(t, config.IsConfigError(err))

	_, err = NewEngine(EngineConfig{Strategy: strat, Broker: broker.Config{StartingCash: 100}})
	assert.True(t, market.IsDataError(err))

	eng, err := NewEngine(EngineConfig{
		Feed:     feed,
		Strategy: strat,
		Broker:   broker.Config{StartingCash: 100},
		Extra:    []indicator.Spec{{Name: "rsi", Kind: indicator.KindSMA, Params: map[string]float64{"period": 3}}},
	})
	require.NoError(t, err)
	res, err := eng.Run(context.Background())
	assert.Nil(t, res)
	assert.True(t, config.IsConfigError(err), "duplicate indicator names are a config error")
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	feed := makeFeed(t, []float64{1, 2, 3}, []float64{1, 2, 3})
	eng, err := NewEngine(EngineConfig{
		Feed:     feed,
		Strategy: strategy.NewRSIThreshold(2, 30, 70, broker.Units(1)),
		Broker:   broker.Config{StartingCash: 100},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := eng.Run(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtraIndicatorsMatchAcrossObserveModes(t *testing.T) {
	closes := []float64{10, 9, 8, 11, 12, 7, 6, 13}
	feed := makeFeed(t, closes, closes)
	run := func(parallel bool) *Result {
		return runEngine(t, EngineConfig{
			Feed:     feed,
			Strategy: strategy.NewRSIThreshold(2, 30, 70, broker.Units(1)),
			Broker:   broker.Config{StartingCash: 100},
			Extra:    []indicator.Spec{{Name: "sma_3", Kind: indicator.KindSMA, Params: map[string]float64{"period": 3}}},
			Parallel: parallel,
		})
	}
	seq, par := run(false), run(true)

	assert.InDelta(t, 26.0/3, seq.Final["sma_3"], 1e-12)
	assert.Equal(t, seq.Final, par.Final)
	assert.Equal(t, seq.Report, par.Report)
	assert.Equal(t, seq.Equity, par.Equity)
	assert.Equal(t, 1, seq.Report.TotalTrades)
	assert.InDelta(t, 108.0, seq.Report.EndingValue, 1e-9)
}
