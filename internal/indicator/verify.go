package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"tradesim/internal/market"
)

// DefaultTolerance 增量结果与参考实现的相对误差上限。
const DefaultTolerance = 1e-9

// Mismatch records one bar where the incremental value disagrees with the
// TA-Lib batch reference.
type Mismatch struct {
	Index       int     `json:"index"`
	Line        string  `json:"line"`
	Incremental float64 `json:"incremental"`
	Reference   float64 `json:"reference"`
}

// VerifyResult summarises the comparison for one indicator.
type VerifyResult struct {
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Compared   int        `json:"compared"`
	Skipped    string     `json:"skipped,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

func (r VerifyResult) OK() bool { return r.Skipped == "" && len(r.Mismatches) == 0 }

// Within reports |a-b| <= tol*max(1,|b|).
func Within(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

type reference struct {
	lookback int
	lines    map[string][]float64
}

// Verify replays feed through each spec and compares every ready value
// against go-talib. MACD and VWAP are reported as skipped: TA-Lib seeds the
// MACD EMAs differently and has no windowed VWAP.
func Verify(feed *market.Feed, specs []Spec, tol float64) ([]VerifyResult, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	closes := feed.Closes()
	results := make([]VerifyResult, 0, len(specs))
	for _, spec := range specs {
		ind, err := New(spec)
		if err != nil {
			return nil, err
		}
		kind, _ := ParseKind(string(spec.Kind))
		res := VerifyResult{Name: ind.Name(), Kind: kind}
		ref, ok := talibReference(kind, spec.Params, closes)
		if !ok {
			res.Skipped = fmt.Sprintf("no TA-Lib reference for %s", kind)
			results = append(results, res)
			continue
		}
		for i := 0; i < feed.Len(); i++ {
			ind.Observe(feed.At(i))
			if !ind.Ready() || i < ref.lookback {
				continue
			}
			got := currentLines(ind)
			for line, series := range ref.lines {
				res.Compared++
				if !Within(got[line], series[i], tol) {
					res.Mismatches = append(res.Mismatches, Mismatch{Index: i, Line: line, Incremental: got[line], Reference: series[i]})
				}
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func currentLines(ind Indicator) map[string]float64 {
	out := map[string]float64{}
	if v, ok := ind.Value(); ok {
		out["value"] = v
	}
	if ml, ok := ind.(MultiLine); ok {
		for k, v := range ml.Lines() {
			out[k] = v
		}
	}
	return out
}

func talibReference(kind Kind, params map[string]float64, closes []float64) (reference, bool) {
	period := int(params["period"])
	if period < 1 || len(closes) <= period {
		return reference{}, false
	}
	switch kind {
	case KindSMA:
		return reference{lookback: period - 1, lines: map[string][]float64{"value": talib.Sma(closes, period)}}, true
	case KindEMA:
		return reference{lookback: period - 1, lines: map[string][]float64{"value": talib.Ema(closes, period)}}, true
	case KindRSI:
		return reference{lookback: period, lines: map[string][]float64{"value": talib.Rsi(closes, period)}}, true
	case KindBollinger:
		k := params["k"]
		upper, mid, lower := talib.BBands(closes, period, k, k, talib.SMA)
		return reference{lookback: period - 1, lines: map[string][]float64{"mid": mid, "upper": upper, "lower": lower}}, true
	default:
		return reference{}, false
	}
}
