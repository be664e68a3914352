package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradesim/internal/analyzer"
	"tradesim/internal/broker"
	"tradesim/internal/config"
	"tradesim/internal/indicator"
	"tradesim/internal/logger"
	"tradesim/internal/market"
	"tradesim/internal/strategy"
)

const defaultPeriodsPerYear = 252

// EngineConfig 单次回测所需的全部输入；数据在进入循环前已全部加载。
type EngineConfig struct {
	Feed     *market.Feed
	Strategy strategy.Strategy
	Broker   broker.Config
	// Extra indicators are observed alongside the strategy's own and show
	// up in the snapshot, mostly for logging.
	Extra          []indicator.Spec
	Parallel       bool
	PeriodsPerYear float64
	Sink           EventSink
}

// Result is everything a finished run produced.
type Result struct {
	Report analyzer.Report        `json:"report"`
	Orders []broker.Order         `json:"orders"`
	Trades []broker.Trade         `json:"trades"`
	Equity []analyzer.EquityPoint `json:"equity"`
	Events []Event                `json:"events"`
	Final  map[string]float64     `json:"final_indicators,omitempty"`
}

// Engine replays a feed through a strategy one bar at a time.
type Engine struct {
	cfg EngineConfig
}

// NewEngine checks the inputs; any problem here is fatal and no bar is
// processed.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, config.Invalid("strategy", "strategy 不能为空")
	}
	if cfg.Feed == nil || cfg.Feed.Len() == 0 {
		return nil, market.NewDataError("load", "", market.ErrEmptyFeed)
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = defaultPeriodsPerYear
	}
	if _, err := broker.New(cfg.Broker); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// runState holds all mutable state of one run.
type runState struct {
	feed    *market.Feed
	strat   strategy.Strategy
	ind     *indicator.Engine
	broker  *broker.Broker
	trades  *analyzer.TradeAnalyzer
	equity  *analyzer.EquityCurve
	journal *Journal
	sink    EventSink

	prev    indicator.Snapshot
	seq     int
	ignored int
}

func (e *Engine) newRunState() (*runState, error) {
	b, err := broker.New(e.cfg.Broker)
	if err != nil {
		return nil, err
	}
	ind := indicator.NewEngine(indicator.WithParallel(e.cfg.Parallel))
	specs := append(append([]indicator.Spec{}, e.cfg.Strategy.Indicators()...), e.cfg.Extra...)
	for _, spec := range specs {
		if err := ind.AddSpec(spec); err != nil {
			return nil, config.Invalid("indicators", "%s: %v", spec.Name, err)
		}
	}
	journal := NewJournal()
	sink := EventSink(journal)
	if e.cfg.Sink != nil {
		sink = MultiSink{journal, e.cfg.Sink}
	}
	return &runState{
		feed:    e.cfg.Feed,
		strat:   e.cfg.Strategy,
		ind:     ind,
		broker:  b,
		trades:  analyzer.NewTradeAnalyzer(),
		equity:  analyzer.NewEquityCurve(),
		journal: journal,
		sink:    sink,
	}, nil
}

// Run executes the whole feed. Fatal errors return a nil result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	st, err := e.newRunState()
	if err != nil {
		return nil, err
	}
	feed := st.feed
	logger.Infof("[backtest] %s/%s 开始：bars=%d warmup=%d cash=%.2f",
		feed.Symbol(), st.strat.Name(), feed.Len(), st.ind.MaxWarmup(), e.cfg.Broker.StartingCash)

	for i := 0; i < feed.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest 中断于第 %d 根: %w", i, err)
		}
		if err := st.step(ctx, i); err != nil {
			return nil, err
		}
	}
	st.finish(ctx)

	res := st.result(e.cfg.Broker.StartingCash, e.cfg.PeriodsPerYear)
	logger.Infof("[backtest] %s/%s 完成：trades=%d final=%.2f",
		feed.Symbol(), st.strat.Name(), res.Report.TotalTrades, res.Report.EndingValue)
	return res, nil
}

func (st *runState) step(ctx context.Context, i int) error {
	bar := st.feed.At(i)
	if err := st.ind.Observe(ctx, bar); err != nil {
		return err
	}
	if fill, ok := st.broker.Resolve(i, bar); ok {
		st.orderUpdated(ctx, i, bar.Time, fill.Order)
		if fill.Trade != nil {
			st.tradeClosed(ctx, i, bar.Time, *fill.Trade)
		}
	}
	st.broker.Mark(bar.Close)
	st.equity.Observe(bar.Time, st.broker.Value(), st.broker.Cash())

	snap := st.ind.Snapshot()
	view := strategy.NewView(st.feed, i, snap, st.prev, st.broker.Position(),
		st.broker.Cash(), st.broker.Value(), st.broker.HasPending())
	intent := st.strat.OnBar(view)
	st.prev = snap
	if intent == nil {
		return nil
	}
	if st.broker.HasPending() {
		st.ignored++
		pending, _ := st.broker.Pending()
		st.emit(ctx, EventIntentIgnored, i, bar.Time, map[string]any{
			"side":    string(intent.Side),
			"note":    intent.Note,
			"reason":  fmt.Sprintf("order %d pending", pending.ID),
			"pending": int64(pending.ID),
		})
		return nil
	}
	order, err := st.broker.Submit(*intent, i, bar)
	if err != nil {
		if errors.Is(err, broker.ErrPendingOrder) {
			st.ignored++
			return nil
		}
		return err
	}
	st.emit(ctx, EventOrderSubmitted, i, bar.Time, map[string]any{
		"order_id":  int64(order.ID),
		"side":      string(order.Side),
		"policy":    order.Policy,
		"requested": order.Requested,
		"close":     bar.Close,
		"note":      intent.Note,
	})
	if order.Status() == broker.StatusRejected {
		st.orderUpdated(ctx, i, bar.Time, order)
		return nil
	}
	st.strat.OnOrderUpdate(order)
	return nil
}

// finish cancels whatever is still pending once the feed is exhausted.
func (st *runState) finish(ctx context.Context) {
	last := st.feed.Len() - 1
	at := st.feed.Last().Time
	if order, ok := st.broker.Cancel(last, at, broker.ErrExhausted); ok {
		st.orderUpdated(ctx, last, at, order)
	}
}

func (st *runState) orderUpdated(ctx context.Context, i int, at time.Time, o broker.Order) {
	st.strat.OnOrderUpdate(o)
	st.emit(ctx, EventOrderResolved, i, at, map[string]any{
		"order_id":   int64(o.ID),
		"side":       string(o.Side),
		"status":     o.Status().String(),
		"size":       o.Size,
		"price":      o.FillPrice,
		"cost":       o.Notional(),
		"commission": o.Commission,
		"reason":     o.Reason,
	})
}

func (st *runState) tradeClosed(ctx context.Context, i int, at time.Time, t broker.Trade) {
	st.trades.Record(t)
	st.strat.OnTradeClosed(t)
	st.emit(ctx, EventTradeClosed, i, at, map[string]any{
		"trade_id":   t.ID,
		"size":       t.Size,
		"entry":      t.EntryPrice,
		"exit":       t.ExitPrice,
		"gross_pnl":  t.GrossPnL,
		"net_pnl":    t.NetPnL,
		"commission": t.Commission,
		"bar_len":    t.BarLen,
	})
}

func (st *runState) emit(ctx context.Context, kind EventKind, i int, at time.Time, payload map[string]any) {
	st.seq++
	ev := Event{Seq: st.seq, Kind: kind, BarIndex: i, Time: at, Payload: payload}
	if err := st.sink.Emit(ctx, ev); err != nil {
		logger.Warnf("[backtest] 事件 %s 写入失败: %v", kind, err)
	}
}

func (st *runState) result(startingCash, periodsPerYear float64) *Result {
	orders := st.broker.Orders()
	report := analyzer.Build(st.trades.Summary(), startingCash, st.broker.Value())
	report.Symbol = st.feed.Symbol()
	report.Strategy = st.strat.Name()
	report.Bars = st.feed.Len()
	report.Extras.MaxDrawdownPct = st.equity.MaxDrawdown() * 100
	report.Extras.SharpeRatio = st.equity.Sharpe(periodsPerYear)
	report.Extras.Orders = len(orders)
	report.Extras.IgnoredIntents = st.ignored
	for _, o := range orders {
		switch o.Status() {
		case broker.StatusCompleted:
			report.Extras.Completed++
		case broker.StatusMargin:
			report.Extras.Margin++
		case broker.StatusRejected:
			report.Extras.Rejected++
		case broker.StatusCanceled:
			report.Extras.Canceled++
		}
	}
	return &Result{
		Report: report,
		Orders: orders,
		Trades: st.trades.Trades(),
		Equity: st.equity.Points(),
		Events: st.journal.Events(),
		Final:  st.ind.Snapshot().Values(),
	}
}
