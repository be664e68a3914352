package backtest

import (
	"time"

	"tradesim/internal/analyzer"
	"tradesim/internal/broker"
	"tradesim/internal/config"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// Run 表示一次回测任务及其汇总结果。
type Run struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Symbol      string           `json:"symbol"`
	Interval    string           `json:"interval"`
	Strategy    string           `json:"strategy"`
	Config      config.RunConfig `json:"config"`
	Report      *analyzer.Report `json:"report,omitempty"`
	Message     string           `json:"message,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

func (r Run) Finished() bool {
	return r.Status == RunStatusDone || r.Status == RunStatusFailed
}

// OrderRecord 是持久化后的订单（即 transactions 列表）。
type OrderRecord struct {
	RunID          string    `json:"run_id"`
	OrderID        int64     `json:"order_id"`
	Side           string    `json:"side"`
	Status         string    `json:"status"`
	Policy         string    `json:"policy"`
	Requested      float64   `json:"requested"`
	Size           float64   `json:"size"`
	Price          float64   `json:"price"`
	Notional       float64   `json:"notional"`
	Commission     float64   `json:"commission"`
	Reason         string    `json:"reason,omitempty"`
	SubmittedIndex int       `json:"submitted_index"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ResolvedIndex  int       `json:"resolved_index"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

func newOrderRecord(runID string, o broker.Order) OrderRecord {
	return OrderRecord{
		RunID:          runID,
		OrderID:        int64(o.ID),
		Side:           string(o.Side),
		Status:         o.Status().String(),
		Policy:         o.Policy,
		Requested:      o.Requested,
		Size:           o.Size,
		Price:          o.FillPrice,
		Notional:       o.Notional(),
		Commission:     o.Commission,
		Reason:         o.Reason,
		SubmittedIndex: o.SubmittedIndex,
		SubmittedAt:    o.SubmittedAt,
		ResolvedIndex:  o.ResolvedIndex,
		ResolvedAt:     o.ResolvedAt,
	}
}

// TradeRecord 持久化后的已平仓交易。
type TradeRecord struct {
	RunID string `json:"run_id"`
	broker.Trade
}

type EventRecord struct {
	RunID string `json:"run_id"`
	Event
}

type EquityRecord struct {
	RunID string `json:"run_id"`
	analyzer.EquityPoint
}
