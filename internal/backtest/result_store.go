package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradesim/internal/analyzer"
	"tradesim/internal/broker"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

const defaultListLimit = 500

type runModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Status      string         `gorm:"column:status;index"`
	Symbol      string         `gorm:"column:symbol"`
	Interval    string         `gorm:"column:interval"`
	Strategy    string         `gorm:"column:strategy"`
	ConfigJSON  datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ReportJSON  datatypes.JSON `gorm:"column:report_json;type:TEXT"`
	Message     string         `gorm:"column:message"`
	CreatedAt   int64          `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt   int64          `gorm:"column:updated_at;autoUpdateTime:false"`
	CompletedAt int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type orderModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string  `gorm:"column:run_id;uniqueIndex:idx_run_order,priority:1"`
	OrderID        int64   `gorm:"column:order_id;uniqueIndex:idx_run_order,priority:2"`
	Side           string  `gorm:"column:side"`
	Status         string  `gorm:"column:status"`
	Policy         string  `gorm:"column:policy"`
	Requested      float64 `gorm:"column:requested"`
	Size           float64 `gorm:"column:size"`
	Price          float64 `gorm:"column:price"`
	Notional       float64 `gorm:"column:notional"`
	Commission     float64 `gorm:"column:commission"`
	Reason         string  `gorm:"column:reason"`
	SubmittedIndex int     `gorm:"column:submitted_index"`
	SubmittedAt    int64   `gorm:"column:submitted_at"`
	ResolvedIndex  int     `gorm:"column:resolved_index"`
	ResolvedAt     int64   `gorm:"column:resolved_at"`
}

func (orderModel) TableName() string { return "backtest_orders" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;uniqueIndex:idx_run_trade,priority:1"`
	TradeID    int     `gorm:"column:trade_id;uniqueIndex:idx_run_trade,priority:2"`
	Size       float64 `gorm:"column:size"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	GrossPnL   float64 `gorm:"column:gross_pnl"`
	NetPnL     float64 `gorm:"column:net_pnl"`
	Commission float64 `gorm:"column:commission"`
	BarLen     int     `gorm:"column:bar_len"`
	OpenIndex  int     `gorm:"column:open_index"`
	CloseIndex int     `gorm:"column:close_index"`
	OpenedAt   int64   `gorm:"column:opened_at"`
	ClosedAt   int64   `gorm:"column:closed_at"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type eventModel struct {
	ID       int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string         `gorm:"column:run_id;index:idx_events_run,priority:1"`
	Seq      int            `gorm:"column:seq;index:idx_events_run,priority:2"`
	Kind     string         `gorm:"column:kind"`
	BarIndex int            `gorm:"column:bar_index"`
	TS       int64          `gorm:"column:ts"`
	Payload  datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (eventModel) TableName() string { return "backtest_events" }

type equityModel struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Value    float64 `gorm:"column:value"`
	Cash     float64 `gorm:"column:cash"`
	Drawdown float64 `gorm:"column:drawdown"`
}

func (equityModel) TableName() string { return "backtest_equity" }

// ResultStore 管理 backtest_runs/orders/trades/events/equity 表。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &orderModel{}, &tradeModel{}, &eventModel{}, &equityModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateRun 写入一条新的 run 记录（通常为 pending）。
func (s *ResultStore) CreateRun(ctx context.Context, run Run) error {
	m, err := newRunModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	updates := map[string]any{"status": status, "message": message, "updated_at": now}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	tx := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// SaveResult 在一个事务里写入报告、订单、交易、事件与资金曲线，并将 run 标记为 done。
func (s *ResultStore) SaveResult(ctx context.Context, id string, res *Result) error {
	if res == nil {
		return fmt.Errorf("result 不能为空")
	}
	report, err := json.Marshal(res.Report)
	if err != nil {
		return err
	}
	orders := make([]orderModel, 0, len(res.Orders))
	for _, o := range res.Orders {
		orders = append(orders, newOrderModel(id, o))
	}
	trades := make([]tradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, newTradeModel(id, t))
	}
	events := make([]eventModel, 0, len(res.Events))
	for _, ev := range res.Events {
		m, err := newEventModel(id, ev)
		if err != nil {
			return err
		}
		events = append(events, m)
	}
	equity := make([]equityModel, 0, len(res.Equity))
	for _, p := range res.Equity {
		equity = append(equity, equityModel{RunID: id, TS: p.Time.UnixMilli(), Value: p.Value, Cash: p.Cash, Drawdown: p.Drawdown})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UnixMilli()
		upd := tx.Model(&runModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":       RunStatusDone,
			"report_json":  datatypes.JSON(report),
			"message":      "",
			"updated_at":   now,
			"completed_at": now,
		})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		if len(orders) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "run_id"}, {Name: "order_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "size", "price", "notional", "commission", "reason", "resolved_index", "resolved_at"}),
			}).CreateInBatches(&orders, 200).Error
			if err != nil {
				return err
			}
		}
		if len(trades) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&trades, 200).Error; err != nil {
				return err
			}
		}
		if len(events) > 0 {
			if err := tx.CreateInBatches(&events, 200).Error; err != nil {
				return err
			}
		}
		if len(equity) > 0 {
			if err := tx.CreateInBatches(&equity, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return m.toRun()
}

// ListRuns 按创建时间倒序返回最近的 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(clampLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := m.toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *ResultStore) ListOrders(ctx context.Context, runID string, limit int) ([]OrderRecord, error) {
	var models []orderModel
	if err := s.byRun(ctx, runID, "order_id ASC", limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]OrderRecord, 0, len(models))
	for _, m := range models {
		out = append(out, OrderRecord{
			RunID:          m.RunID,
			OrderID:        m.OrderID,
			Side:           m.Side,
			Status:         m.Status,
			Policy:         m.Policy,
			Requested:      m.Requested,
			Size:           m.Size,
			Price:          m.Price,
			Notional:       m.Notional,
			Commission:     m.Commission,
			Reason:         m.Reason,
			SubmittedIndex: m.SubmittedIndex,
			SubmittedAt:    timeFromMillis(m.SubmittedAt),
			ResolvedIndex:  m.ResolvedIndex,
			ResolvedAt:     timeFromMillis(m.ResolvedAt),
		})
	}
	return out, nil
}

func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]TradeRecord, error) {
	var models []tradeModel
	if err := s.byRun(ctx, runID, "trade_id ASC", limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(models))
	for _, m := range models {
		out = append(out, TradeRecord{RunID: m.RunID, Trade: broker.Trade{
			ID:         m.TradeID,
			Size:       m.Size,
			EntryPrice: m.EntryPrice,
			ExitPrice:  m.ExitPrice,
			GrossPnL:   m.GrossPnL,
			NetPnL:     m.NetPnL,
			Commission: m.Commission,
			BarLen:     m.BarLen,
			OpenIndex:  m.OpenIndex,
			CloseIndex: m.CloseIndex,
			OpenedAt:   timeFromMillis(m.OpenedAt),
			ClosedAt:   timeFromMillis(m.ClosedAt),
		}})
	}
	return out, nil
}

func (s *ResultStore) ListEvents(ctx context.Context, runID string, limit int) ([]EventRecord, error) {
	var models []eventModel
	if err := s.byRun(ctx, runID, "seq ASC", limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(models))
	for _, m := range models {
		ev := Event{Seq: m.Seq, Kind: EventKind(m.Kind), BarIndex: m.BarIndex, Time: timeFromMillis(m.TS)}
		if len(m.Payload) > 0 {
			if err := json.Unmarshal(m.Payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("解析事件 %d payload 失败: %w", m.Seq, err)
			}
		}
		out = append(out, EventRecord{RunID: m.RunID, Event: ev})
	}
	return out, nil
}

func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquityRecord, error) {
	var models []equityModel
	if err := s.byRun(ctx, runID, "ts ASC", limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]EquityRecord, 0, len(models))
	for _, m := range models {
		out = append(out, EquityRecord{RunID: m.RunID, EquityPoint: analyzer.EquityPoint{
			Time:     timeFromMillis(m.TS),
			Value:    m.Value,
			Cash:     m.Cash,
			Drawdown: m.Drawdown,
		}})
	}
	return out, nil
}

func (s *ResultStore) byRun(ctx context.Context, runID, order string, limit int) *gorm.DB {
	return s.db.WithContext(ctx).Where("run_id = ?", runID).Order(order).Limit(clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 10*defaultListLimit {
		return defaultListLimit
	}
	return limit
}

func newRunModel(run Run) (runModel, error) {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return runModel{}, err
	}
	m := runModel{
		ID:          run.ID,
		Status:      run.Status,
		Symbol:      run.Symbol,
		Interval:    run.Interval,
		Strategy:    run.Strategy,
		ConfigJSON:  datatypes.JSON(cfg),
		Message:     run.Message,
		CreatedAt:   millisOrZero(run.CreatedAt),
		UpdatedAt:   millisOrZero(run.UpdatedAt),
		CompletedAt: millisOrZero(run.CompletedAt),
	}
	if run.Report != nil {
		report, err := json.Marshal(run.Report)
		if err != nil {
			return runModel{}, err
		}
		m.ReportJSON = datatypes.JSON(report)
	}
	return m, nil
}

func (m runModel) toRun() (Run, error) {
	run := Run{
		ID:          m.ID,
		Status:      m.Status,
		Symbol:      m.Symbol,
		Interval:    m.Interval,
		Strategy:    m.Strategy,
		Message:     m.Message,
		CreatedAt:   timeFromMillis(m.CreatedAt),
		UpdatedAt:   timeFromMillis(m.UpdatedAt),
		CompletedAt: timeFromMillis(m.CompletedAt),
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, fmt.Errorf("解析 run %s 配置失败: %w", m.ID, err)
		}
	}
	if len(m.ReportJSON) > 0 {
		var report analyzer.Report
		if err := json.Unmarshal(m.ReportJSON, &report); err != nil {
			return Run{}, fmt.Errorf("解析 run %s 报告失败: %w", m.ID, err)
		}
		run.Report = &report
	}
	return run, nil
}

func newOrderModel(runID string, o broker.Order) orderModel {
	rec := newOrderRecord(runID, o)
	return orderModel{
		RunID:          runID,
		OrderID:        rec.OrderID,
		Side:           rec.Side,
		Status:         rec.Status,
		Policy:         rec.Policy,
		Requested:      rec.Requested,
		Size:           rec.Size,
		Price:          rec.Price,
		Notional:       rec.Notional,
		Commission:     rec.Commission,
		Reason:         rec.Reason,
		SubmittedIndex: rec.SubmittedIndex,
		SubmittedAt:    millisOrZero(rec.SubmittedAt),
		ResolvedIndex:  rec.ResolvedIndex,
		ResolvedAt:     millisOrZero(rec.ResolvedAt),
	}
}

func newTradeModel(runID string, t broker.Trade) tradeModel {
	return tradeModel{
		RunID:      runID,
		TradeID:    t.ID,
		Size:       t.Size,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		GrossPnL:   t.GrossPnL,
		NetPnL:     t.NetPnL,
		Commission: t.Commission,
		BarLen:     t.BarLen,
		OpenIndex:  t.OpenIndex,
		CloseIndex: t.CloseIndex,
		OpenedAt:   millisOrZero(t.OpenedAt),
		ClosedAt:   millisOrZero(t.ClosedAt),
	}
}

func newEventModel(runID string, ev Event) (eventModel, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return eventModel{}, fmt.Errorf("序列化事件 %d 失败: %w", ev.Seq, err)
	}
	return eventModel{
		RunID:    runID,
		Seq:      ev.Seq,
		Kind:     string(ev.Kind),
		BarIndex: ev.BarIndex,
		TS:       millisOrZero(ev.Time),
		Payload:  datatypes.JSON(payload),
	}, nil
}

func millisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
