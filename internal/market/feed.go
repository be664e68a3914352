package market

import (
	"fmt"
)

// Feed is a validated, time-ordered, read-only bar sequence. It never
// changes after Load, so the engine and indicators share it without locks.
type Feed struct {
	symbol string
	bars   []Bar
}

// Load validates bars and freezes a private copy.
func Load(symbol string, bars []Bar) (*Feed, error) {
	if len(bars) == 0 {
		return nil, &DataError{Op: "load", Symbol: symbol, Index: -1, Err: ErrEmptyFeed}
	}
	frozen := make([]Bar, len(bars))
	copy(frozen, bars)
	for i, b := range frozen {
		if err := b.Validate(); err != nil {
			return nil, &DataError{Op: "load", Symbol: symbol, Index: i, Err: err}
		}
		if i > 0 && !b.Time.After(frozen[i-1].Time) {
			return nil, &DataError{
				Op:     "load",
				Symbol: symbol,
				Index:  i,
				Err: fmt.Errorf("%w: %s after %s", ErrOutOfOrder,
					b.Time.UTC().Format("2006-01-02T15:04:05Z"), frozen[i-1].Time.UTC().Format("2006-01-02T15:04:05Z")),
			}
		}
	}
	return &Feed{symbol: symbol, bars: frozen}, nil
}

func (f *Feed) Symbol() string { return f.symbol }

func (f *Feed) Len() int { return len(f.bars) }

// At panics on out-of-range indexes like a slice.
func (f *Feed) At(i int) Bar { return f.bars[i] }

func (f *Feed) First() Bar { return f.bars[0] }

func (f *Feed) Last() Bar { return f.bars[len(f.bars)-1] }

// Window returns bars 0..end inclusive. The slice has its capacity clipped
// so appends never reach past end.
func (f *Feed) Window(end int) []Bar {
	if end < 0 {
		return nil
	}
	if end >= len(f.bars) {
		end = len(f.bars) - 1
	}
	return f.bars[: end+1 : end+1]
}

// Closes 收盘价序列，供批量指标校验使用。
func (f *Feed) Closes() []float64 {
	out := make([]float64, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Close
	}
	return out
}
