package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval 描述 K 线周期。
type Interval struct {
	Key      string
	Duration time.Duration
}

var supportedIntervals = map[string]Interval{
	"1m":  {Key: "1m", Duration: time.Minute},
	"3m":  {Key: "3m", Duration: 3 * time.Minute},
	"5m":  {Key: "5m", Duration: 5 * time.Minute},
	"15m": {Key: "15m", Duration: 15 * time.Minute},
	"30m": {Key: "30m", Duration: 30 * time.Minute},
	"1h":  {Key: "1h", Duration: time.Hour},
	"2h":  {Key: "2h", Duration: 2 * time.Hour},
	"4h":  {Key: "4h", Duration: 4 * time.Hour},
	"6h":  {Key: "6h", Duration: 6 * time.Hour},
	"12h": {Key: "12h", Duration: 12 * time.Hour},
	"1d":  {Key: "1d", Duration: 24 * time.Hour},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour},
}

// ParseInterval 返回标准化周期；未知周期返回 DataError。
func ParseInterval(input string) (Interval, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "7d" {
		key = "1w"
	}
	iv, ok := supportedIntervals[key]
	if !ok {
		return Interval{}, &DataError{Op: "interval", Index: -1, Err: fmt.Errorf("%w: %q", ErrUnknownInterval, input)}
	}
	return iv, nil
}

// SupportedIntervals returns all keys ordered by duration.
func SupportedIntervals() []string {
	keys := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedIntervals[keys[i]].Duration < supportedIntervals[keys[j]].Duration
	})
	return keys
}

func (iv Interval) String() string { return iv.Key }

func (iv Interval) millis() int64 { return iv.Duration.Milliseconds() }

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 将毫秒时间对齐到周期网格，保证 start<=end。
func (iv Interval) AlignRange(start, end int64) (int64, int64) {
	step := iv.millis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars 计算 start~end（含）区间在连续交易市场中应有的 K 线数量。
func (iv Interval) ExpectedBars(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := iv.millis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
