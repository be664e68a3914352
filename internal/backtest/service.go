package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradesim/internal/analyzer"
	"tradesim/internal/broker"
	"tradesim/internal/config"
	"tradesim/internal/indicator"
	"tradesim/internal/logger"
	"tradesim/internal/market"
	"tradesim/internal/notifier"
	"tradesim/internal/strategy"

	"github.com/google/uuid"
)

// FeedLoader 为回测提供完整的 K 线序列。
type FeedLoader interface {
	LoadFeed(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Feed, error)
}

// Notifier 用于运行完成后的推送（Telegram 等）。
type Notifier interface {
	SendText(text string) error
}

type ServiceConfig struct {
	Loader        FeedLoader
	Registry      *strategy.Registry
	Results       *ResultStore
	Metrics       *Metrics
	Notifier      Notifier
	Extra         []indicator.Spec
	Parallel      bool
	Defaults      config.RunConfig
	MaxConcurrent int
}

// Service 负责创建、执行并记录回测任务。
type Service struct {
	loader   FeedLoader
	registry *strategy.Registry
	results  *ResultStore
	metrics  *Metrics
	notifier Notifier
	extra    []indicator.Spec
	parallel bool

	sem     chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup

	mu       sync.RWMutex
	defaults config.RunConfig
	runs     map[string]*Run
	outputs  map[string]*Result
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("feed loader 不能为空")
	}
	if cfg.Registry == nil {
		cfg.Registry = strategy.Default()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		loader:   cfg.Loader,
		registry: cfg.Registry,
		results:  cfg.Results,
		metrics:  cfg.Metrics,
		notifier: cfg.Notifier,
		extra:    append([]indicator.Spec(nil), cfg.Extra...),
		parallel: cfg.Parallel,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
		defaults: cfg.Defaults,
		runs:     make(map[string]*Run),
		outputs:  make(map[string]*Result),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SetDefaults swaps the run defaults, e.g. after a config reload.
func (s *Service) SetDefaults(rc config.RunConfig) {
	s.mu.Lock()
	s.defaults = rc
	s.mu.Unlock()
}

func (s *Service) Defaults() config.RunConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *Service) Registry() *strategy.Registry { return s.registry }

func (s *Service) Metrics() *Metrics { return s.metrics }

// Normalize fills unset fields from the defaults and validates the result.
func (s *Service) Normalize(rc config.RunConfig) (config.RunConfig, error) {
	rc.ApplyRunDefaults(s.Defaults())
	if err := rc.Validate(); err != nil {
		return rc, err
	}
	if _, err := market.ParseInterval(rc.Interval); err != nil {
		return rc, config.Invalid("interval", "%v", err)
	}
	return rc, nil
}

func (s *Service) buildStrategy(rc config.RunConfig) (strategy.Strategy, error) {
	size, err := strategy.SizeFromConfig(rc.Size)
	if err != nil {
		return nil, err
	}
	return s.registry.Build(rc.Strategy, rc.StrategyParams, size)
}

// Prepare 校验配置、构建策略并加载数据；返回的 Engine 尚未运行。
func (s *Service) Prepare(ctx context.Context, rc config.RunConfig, sink EventSink) (*Engine, error) {
	rc, err := s.Normalize(rc)
	if err != nil {
		return nil, err
	}
	strat, err := s.buildStrategy(rc)
	if err != nil {
		return nil, err
	}
	start, end, err := rc.Range()
	if err != nil {
		return nil, err
	}
	feed, err := s.loader.LoadFeed(ctx, rc.Symbol, rc.Interval, start, end)
	if err != nil {
		return nil, market.NewDataError("load", rc.Symbol, err)
	}
	if rc.EventLog {
		sink = joinSinks(sink, LogSink{})
	}
	return NewEngine(EngineConfig{
		Feed:           feed,
		Strategy:       strat,
		Broker:         broker.Config{StartingCash: rc.StartingCash, CommissionRate: rc.CommissionRate},
		Extra:          s.extra,
		Parallel:       s.parallel,
		PeriodsPerYear: rc.PeriodsPerYear,
		Sink:           sink,
	})
}

// Run executes one backtest synchronously and records it.
func (s *Service) Run(ctx context.Context, rc config.RunConfig, sink EventSink) (Run, *Result, error) {
	rc, err := s.Normalize(rc)
	if err != nil {
		return Run{}, nil, err
	}
	run, err := s.register(ctx, rc)
	if err != nil {
		return Run{}, nil, err
	}
	res, err := s.execute(ctx, run.ID, rc, sink)
	run, _ = s.Get(ctx, run.ID)
	return run, res, err
}

// Submit 创建回测任务并立即返回，模拟过程在后台进行。配置错误同步返回。
func (s *Service) Submit(rc config.RunConfig) (Run, error) {
	rc, err := s.Normalize(rc)
	if err != nil {
		return Run{}, err
	}
	if _, err := s.buildStrategy(rc); err != nil {
		return Run{}, err
	}
	if _, _, err := rc.Range(); err != nil {
		return Run{}, err
	}
	ctx := s.ctx()
	run, err := s.register(ctx, rc)
	if err != nil {
		return Run{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			s.fail(context.Background(), run.ID, ctx.Err())
			return
		}
		defer func() { <-s.sem }()
		_, _ = s.execute(ctx, run.ID, rc, nil)
	}()
	return run, nil
}

// Wait blocks until every submitted run has finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) register(ctx context.Context, rc config.RunConfig) (Run, error) {
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Symbol:    rc.Symbol,
		Interval:  rc.Interval,
		Strategy:  rc.Strategy,
		Config:    rc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.results != nil {
		if err := s.results.CreateRun(ctx, run); err != nil {
			return Run{}, fmt.Errorf("写入 run 失败: %w", err)
		}
	}
	s.mu.Lock()
	s.runs[run.ID] = &run
	s.mu.Unlock()
	logger.Infof("[backtest] run %s 提交：%s %s %s [%s,%s]", run.ID, rc.Strategy, rc.Symbol, rc.Interval, rc.Start, rc.End)
	return run, nil
}

func (s *Service) execute(ctx context.Context, id string, rc config.RunConfig, sink EventSink) (*Result, error) {
	done := s.metrics.runStarted()
	s.setStatus(ctx, id, RunStatusRunning, "")

	engine, err := s.Prepare(ctx, rc, sink)
	if err != nil {
		done(RunStatusFailed)
		s.fail(ctx, id, err)
		return nil, err
	}
	res, err := engine.Run(ctx)
	if err != nil {
		done(RunStatusFailed)
		s.fail(context.WithoutCancel(ctx), id, err)
		return nil, err
	}
	res.Report.RunID = id
	s.metrics.ObserveResult(res)
	done(RunStatusDone)
	logger.With("run", id).Info("backtest done",
		"trades", res.Report.TotalTrades, "ending_value", res.Report.EndingValue)

	if s.results != nil {
		if err := s.results.SaveResult(context.WithoutCancel(ctx), id, res); err != nil {
			logger.Errorf("[backtest] run %s 结果落库失败: %v", id, err)
		}
	}
	s.mu.Lock()
	if run, ok := s.runs[id]; ok {
		report := res.Report
		run.Status = RunStatusDone
		run.Report = &report
		run.Message = ""
		run.UpdatedAt = time.Now().UTC()
		run.CompletedAt = run.UpdatedAt
	}
	s.outputs[id] = res
	s.mu.Unlock()
	s.notify(res.Report)
	return res, nil
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	msg := cause.Error()
	logger.Warnf("[backtest] run %s 失败: %s", id, msg)
	s.setStatus(ctx, id, RunStatusFailed, msg)
	if s.notifier != nil {
		if err := s.notifier.SendText(fmt.Sprintf("回测 %s 失败: %s", id, msg)); err != nil {
			logger.Warnf("[backtest] 推送失败: %v", err)
		}
	}
}

func (s *Service) setStatus(ctx context.Context, id, status, message string) {
	if s.results != nil {
		if err := s.results.UpdateRunStatus(ctx, id, status, message); err != nil {
			logger.Warnf("[backtest] 更新 run %s 状态失败: %v", id, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
		run.Message = message
		run.UpdatedAt = time.Now().UTC()
		if status == RunStatusFailed {
			run.CompletedAt = run.UpdatedAt
		}
	}
}

func (s *Service) notify(report analyzer.Report) {
	if s.notifier == nil {
		return
	}
	msg := notifier.StructuredMessage{
		Icon:  "✅",
		Title: "回测完成 " + report.RunID,
		Sections: []notifier.MessageSection{
			notifier.Section("Report", report.Text()),
			notifier.Section("Extras", report.ExtrasText()),
		},
		Timestamp: time.Now(),
	}
	if err := s.notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[backtest] 推送失败: %v", err)
	}
}

// Get 返回 run 详情，优先读库。
func (s *Service) Get(ctx context.Context, id string) (Run, error) {
	if s.results != nil {
		return s.results.GetRun(ctx, id)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return *run, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Run, error) {
	if s.results != nil {
		return s.results.ListRuns(ctx, limit)
	}
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) Orders(ctx context.Context, id string, limit int) ([]OrderRecord, error) {
	if s.results != nil {
		return s.results.ListOrders(ctx, id, limit)
	}
	res, err := s.output(id)
	if err != nil {
		return nil, err
	}
	out := make([]OrderRecord, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, newOrderRecord(id, o))
	}
	return head(out, limit), nil
}

func (s *Service) Trades(ctx context.Context, id string, limit int) ([]TradeRecord, error) {
	if s.results != nil {
		return s.results.ListTrades(ctx, id, limit)
	}
	res, err := s.output(id)
	if err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(res.Trades))
	for _, t := range res.Trades {
		out = append(out, TradeRecord{RunID: id, Trade: t})
	}
	return head(out, limit), nil
}

func (s *Service) Events(ctx context.Context, id string, limit int) ([]EventRecord, error) {
	if s.results != nil {
		return s.results.ListEvents(ctx, id, limit)
	}
	res, err := s.output(id)
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(res.Events))
	for _, ev := range res.Events {
		out = append(out, EventRecord{RunID: id, Event: ev})
	}
	return head(out, limit), nil
}

func (s *Service) Equity(ctx context.Context, id string, limit int) ([]EquityRecord, error) {
	if s.results != nil {
		return s.results.ListEquity(ctx, id, limit)
	}
	res, err := s.output(id)
	if err != nil {
		return nil, err
	}
	out := make([]EquityRecord, 0, len(res.Equity))
	for _, p := range res.Equity {
		out = append(out, EquityRecord{RunID: id, EquityPoint: p})
	}
	return head(out, limit), nil
}

// output 返回内存中的运行结果；未完成的 run 返回空结果。
func (s *Service) output(id string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if res, ok := s.outputs[id]; ok {
		return res, nil
	}
	return &Result{}, nil
}

func head[T any](items []T, limit int) []T {
	if limit = clampLimit(limit); len(items) > limit {
		return items[:limit]
	}
	return items
}

func joinSinks(a, b EventSink) EventSink {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return MultiSink{a, b}
}

// IsNotFound reports whether err means the run id is unknown.
func IsNotFound(err error) bool { return errors.Is(err, ErrRunNotFound) }
