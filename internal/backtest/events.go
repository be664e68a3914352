package backtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"tradesim/internal/broker"
	"tradesim/internal/logger"
)

// EventKind 事件类型。
type EventKind string

const (
	EventOrderSubmitted EventKind = "order_submitted"
	EventOrderResolved  EventKind = "order_resolved"
	EventTradeClosed    EventKind = "trade_closed"
	EventIntentIgnored  EventKind = "intent_ignored"
)

// Event is one append-only record of something notable during a run.
// Time is the timestamp of the bar being processed.
type Event struct {
	Seq      int            `json:"seq"`
	Kind     EventKind      `json:"kind"`
	BarIndex int            `json:"bar_index"`
	Time     time.Time      `json:"time"`
	Payload  map[string]any `json:"payload"`
}

// EventSink receives run events. Errors are logged by the engine and never
// stop the run.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Journal 内存事件日志，运行结束后随结果一起落库。
type Journal struct {
	mu     sync.Mutex
	events []Event
}

func NewJournal() *Journal { return &Journal{} }

func (j *Journal) Emit(_ context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// LogSink prints events as human readable lines, one per event, prefixed
// with the bar date.
type LogSink struct {
	Prefix string
}

func (l LogSink) Emit(_ context.Context, ev Event) error {
	date := ev.Time.Format("2006-01-02")
	switch ev.Kind {
	case EventOrderSubmitted:
		logger.Infof("%s%s, %s CREATE, %.2f", l.Prefix, date, upperSide(ev.Payload["side"]), num(ev.Payload["close"]))
	case EventOrderResolved:
		status, _ := ev.Payload["status"].(string)
		if status == broker.StatusCompleted.String() {
			logger.Infof("%s%s, %s EXECUTED, Price: %.2f, Cost: %.2f, Comm %.2f", l.Prefix, date,
				upperSide(ev.Payload["side"]), num(ev.Payload["price"]), num(ev.Payload["cost"]), num(ev.Payload["commission"]))
			return nil
		}
		logger.Infof("%s%s, Order %s: %v", l.Prefix, date, status, ev.Payload["reason"])
	case EventTradeClosed:
		logger.Infof("%s%s, OPERATION PROFIT, GROSS %.2f, NET %.2f", l.Prefix, date, num(ev.Payload["gross_pnl"]), num(ev.Payload["net_pnl"]))
	case EventIntentIgnored:
		logger.Debugf("%s%s, intent ignored: %v", l.Prefix, date, ev.Payload["reason"])
	}
	return nil
}

func upperSide(v any) string {
	switch v {
	case string(broker.SideBuy):
		return "BUY"
	case string(broker.SideSell):
		return "SELL"
	}
	return "UNKNOWN"
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
