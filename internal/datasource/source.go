// Package datasource 负责从远端或本地文件获取 K 线，并缓存到 sqlite。
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tradesim/internal/market"
)

// ErrUnsupported is returned when a source cannot serve an interval.
var ErrUnsupported = errors.New("unsupported by source")

// Request 描述一次 K 线请求；Start/End 为闭区间，零值表示不限制。
type Request struct {
	Symbol   string
	Interval market.Interval
	Start    time.Time
	End      time.Time
	// Limit caps the number of bars for paged sources; 0 means the
	// source default.
	Limit int
}

// Source 统一不同交易所/数据源的拉取行为。
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]market.Bar, error)
}

// Paged sources return at most Limit bars per call, the loader walks the
// range for them.
type Paged interface {
	Source
	MaxLimit() int
}

// within keeps bars inside [start, end], sorted and deduplicated by time.
func within(bars []market.Bar, start, end time.Time) []market.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if !start.IsZero() && b.Time.Before(start) {
			continue
		}
		if !end.IsZero() && b.Time.After(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func requireSymbol(req Request) error {
	if req.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if req.Interval.Key == "" {
		return fmt.Errorf("interval 不能为空")
	}
	return nil
}
