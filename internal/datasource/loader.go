package datasource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/logger"
	"tradesim/internal/market"

	"golang.org/x/time/rate"
)

// FetchReport 描述一次拉取的结果，供 CLI 输出。
type FetchReport struct {
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Interval string   `json:"interval" yaml:"interval"`
	Source   string   `json:"source" yaml:"source"`
	Fetched  int      `json:"fetched" yaml:"fetched"`
	Inserted int      `json:"inserted" yaml:"inserted"`
	Manifest Manifest `json:"manifest" yaml:"manifest"`
}

// Loader 负责协调数据源拉取、限速与本地缓存，产出冻结的 Feed。
type Loader struct {
	source   Source
	store    *Store
	limiter  *rate.Limiter
	breaker  *breaker
	maxBatch int
}

// NewLoader builds a loader. source may be nil when store is set, the
// loader then serves from the cache only. store may be nil to disable
// caching.
func NewLoader(source Source, store *Store, ratePerMin, maxBatch int) (*Loader, error) {
	if source == nil && store == nil {
		return nil, fmt.Errorf("至少需要数据源或缓存")
	}
	ratePerSec := rate.Limit(float64(ratePerMin) / 60.0)
	if ratePerMin <= 0 {
		ratePerSec = 8
	}
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	name := "cache"
	if source != nil {
		name = source.Name()
	}
	return &Loader{
		source:   source,
		store:    store,
		limiter:  rate.NewLimiter(ratePerSec, 1),
		breaker:  newBreaker(name, 3, time.Minute),
		maxBatch: maxBatch,
	}, nil
}

// NewFromConfig 按 data 配置选择数据源并打开缓存。
func NewFromConfig(cfg config.DataConfig) (*Loader, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	var src Source
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "yahoo":
		src = NewYahoo(cfg.RESTBaseURL, timeout)
	case "binance":
		src = NewBinance(cfg.RESTBaseURL, timeout)
	case "alpaca":
		src = NewAlpaca(AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
		})
	case "csv":
		src = CSVFile{Path: cfg.File}
	case "parquet":
		src = ParquetFile{Path: cfg.File}
	case "cache":
	default:
		return nil, config.Invalid("data.source", "unsupported source %q", cfg.Source)
	}
	var store *Store
	if cfg.CacheEnabled && !isLocal(src) {
		s, err := NewStore(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		store = s
	}
	return NewLoader(src, store, cfg.RateLimitPerMin, cfg.MaxBatch)
}

func isLocal(src Source) bool {
	switch src.(type) {
	case CSVFile, ParquetFile:
		return true
	}
	return false
}

func (l *Loader) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Store exposes the bar cache, nil when caching is off.
func (l *Loader) Store() *Store { return l.store }

// LoadFeed 返回 [start, end] 内的冻结 Feed；所有失败都包装为 DataError。
func (l *Loader) LoadFeed(ctx context.Context, symbol, interval string, start, end time.Time) (*market.Feed, error) {
	iv, err := market.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	bars, err := l.bars(ctx, symbol, iv, start, end)
	if err != nil {
		return nil, market.NewDataError("fetch", symbol, err)
	}
	return market.Load(strings.ToUpper(symbol), bars)
}

func (l *Loader) bars(ctx context.Context, symbol string, iv market.Interval, start, end time.Time) ([]market.Bar, error) {
	if l.source == nil {
		return l.store.RangeBars(ctx, symbol, iv.Key, millis(start), millis(end))
	}
	if l.store != nil {
		m, err := l.store.Manifest(ctx, symbol, iv.Key)
		if err == nil && !end.IsZero() && m.Covers(millis(start), millis(end)) {
			logger.Debugf("[data] cache hit %s@%s rows=%d", symbol, iv.Key, m.Rows)
			return l.store.RangeBars(ctx, symbol, iv.Key, millis(start), millis(end))
		}
	}
	rep, bars, err := l.pull(ctx, symbol, iv, start, end)
	if err != nil {
		return nil, err
	}
	logger.Infof("[data] %s %s@%s fetched=%d inserted=%d", rep.Source, rep.Symbol, rep.Interval, rep.Fetched, rep.Inserted)
	return bars, nil
}

// Fetch 拉取区间数据写入缓存（不构造 Feed），用于预热。
func (l *Loader) Fetch(ctx context.Context, symbol, interval string, start, end time.Time) (FetchReport, error) {
	iv, err := market.ParseInterval(interval)
	if err != nil {
		return FetchReport{}, err
	}
	if l.source == nil {
		return FetchReport{}, fmt.Errorf("cache 模式下无法拉取")
	}
	rep, _, err := l.pull(ctx, symbol, iv, start, end)
	return rep, err
}

// Verify 检查缓存完整度。
func (l *Loader) Verify(ctx context.Context, symbol, interval string, start, end time.Time) (Integrity, error) {
	iv, err := market.ParseInterval(interval)
	if err != nil {
		return Integrity{}, err
	}
	if l.store == nil {
		return Integrity{}, fmt.Errorf("缓存未启用")
	}
	return l.store.Verify(ctx, symbol, iv, start, end)
}

func (l *Loader) pull(ctx context.Context, symbol string, iv market.Interval, start, end time.Time) (FetchReport, []market.Bar, error) {
	rep := FetchReport{Symbol: strings.ToUpper(symbol), Interval: iv.Key, Source: l.source.Name()}
	req := Request{Symbol: symbol, Interval: iv, Start: start, End: end}
	var (
		bars []market.Bar
		err  error
	)
	if paged, ok := l.source.(Paged); ok {
		bars, err = l.walk(ctx, paged, req)
	} else {
		if err = l.limiter.Wait(ctx); err == nil {
			bars, err = l.fetch(ctx, l.source, req)
		}
	}
	if err != nil {
		return rep, nil, fmt.Errorf("%s 拉取失败: %w", l.source.Name(), err)
	}
	bars = within(bars, start, end)
	rep.Fetched = len(bars)
	if l.store == nil {
		return rep, bars, nil
	}
	inserted, err := l.store.InsertBars(ctx, symbol, iv.Key, l.source.Name(), bars)
	if err != nil {
		return rep, nil, fmt.Errorf("写入缓存失败: %w", err)
	}
	rep.Inserted = inserted
	if !end.IsZero() && len(bars) > 0 {
		if err := l.store.MarkCovered(ctx, symbol, iv.Key, millis(start), millis(end)); err != nil {
			logger.Warnf("[data] mark covered %s@%s failed: %v", symbol, iv.Key, err)
		}
	}
	if m, err := l.store.Manifest(ctx, symbol, iv.Key); err == nil {
		rep.Manifest = m
	}
	return rep, bars, nil
}

// walk pages through [Start, End] in MaxLimit sized requests.
func (l *Loader) walk(ctx context.Context, src Paged, req Request) ([]market.Bar, error) {
	limit := l.maxBatch
	if ceiling := src.MaxLimit(); ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	end := req.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	var out []market.Bar
	cursor := req.Start
	for !cursor.After(end) {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page := req
		page.Start = cursor
		page.End = end
		page.Limit = limit
		data, err := l.fetch(ctx, src, page)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			break
		}
		out = append(out, data...)
		next := data[len(data)-1].Time.Add(req.Interval.Duration)
		if !next.After(cursor) || len(data) < limit {
			break
		}
		cursor = next
	}
	return out, nil
}

func (l *Loader) fetch(ctx context.Context, src Source, req Request) ([]market.Bar, error) {
	var bars []market.Bar
	err := l.breaker.do(func() error {
		var err error
		bars, err = src.Fetch(ctx, req)
		return err
	})
	return bars, err
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
