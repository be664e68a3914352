// Package indicator 提供逐根 K 线增量更新的技术指标。
package indicator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"tradesim/internal/market"
)

// Indicator is one incremental computation over the bar stream.
// Observe must be called once per bar in timestamp order; Value for bar t
// only reflects bars 0..t.
type Indicator interface {
	Name() string
	WarmupLength() int
	Observe(bar market.Bar)
	// Value returns false until the indicator is ready or when the
	// value is undefined (e.g. VWAP over zero volume).
	Value() (float64, bool)
	Ready() bool
}

// MultiLine is implemented by indicators exposing several named outputs.
type MultiLine interface {
	Lines() map[string]float64
}

var (
	ErrNotReady    = errors.New("indicator not ready")
	ErrUnknown     = errors.New("unknown indicator")
	ErrInvalidSpec = errors.New("invalid indicator spec")
)

// Kind 指标类型。
type Kind string

const (
	KindSMA       Kind = "sma"
	KindEMA       Kind = "ema"
	KindRSI       Kind = "rsi"
	KindMACD      Kind = "macd"
	KindBollinger Kind = "bollinger"
	KindVWAP      Kind = "vwap"
)

// Spec describes an indicator instance by kind and numeric params.
type Spec struct {
	Name   string             `json:"name" yaml:"name"`
	Kind   Kind               `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

type factory struct {
	params []string
	build  func(name string, p map[string]float64) (Indicator, error)
}

var registry = map[Kind]factory{
	KindSMA: {
		params: []string{"period"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			period, err := intParam(p, "period", 1)
			if err != nil {
				return nil, err
			}
			return NewSMA(name, period), nil
		},
	},
	KindEMA: {
		params: []string{"period"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			period, err := intParam(p, "period", 1)
			if err != nil {
				return nil, err
			}
			return NewEMA(name, period), nil
		},
	},
	KindRSI: {
		params: []string{"period"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			period, err := intParam(p, "period", 1)
			if err != nil {
				return nil, err
			}
			return NewRSI(name, period), nil
		},
	},
	KindMACD: {
		params: []string{"fast", "slow", "signal"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			fast, err := intParam(p, "fast", 1)
			if err != nil {
				return nil, err
			}
			slow, err := intParam(p, "slow", 2)
			if err != nil {
				return nil, err
			}
			signal, err := intParam(p, "signal", 1)
			if err != nil {
				return nil, err
			}
			if fast >= slow {
				return nil, fmt.Errorf("%w: macd fast %d must be < slow %d", ErrInvalidSpec, fast, slow)
			}
			return NewMACD(name, fast, slow, signal), nil
		},
	},
	KindBollinger: {
		params: []string{"period", "k"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			period, err := intParam(p, "period", 1)
			if err != nil {
				return nil, err
			}
			k, ok := p["k"]
			if !ok || math.IsNaN(k) || k <= 0 {
				return nil, fmt.Errorf("%w: bollinger k must be > 0", ErrInvalidSpec)
			}
			return NewBollinger(name, period, k), nil
		},
	},
	KindVWAP: {
		params: []string{"period"},
		build: func(name string, p map[string]float64) (Indicator, error) {
			period, err := intParam(p, "period", 1)
			if err != nil {
				return nil, err
			}
			return NewVWAP(name, period), nil
		},
	},
}

// ParseKind accepts the registry names plus a few aliases.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case "bb", "bbands", "boll":
		k = KindBollinger
	}
	if _, ok := registry[k]; !ok {
		return "", fmt.Errorf("%w: kind %q", ErrInvalidSpec, raw)
	}
	return k, nil
}

// Kinds lists the registered kinds with their parameter names.
func Kinds() map[Kind][]string {
	out := make(map[Kind][]string, len(registry))
	for k, f := range registry {
		out[k] = append([]string(nil), f.params...)
	}
	return out
}

// New builds an indicator from spec. An empty name becomes kind_params,
// e.g. "rsi_14".
func New(spec Spec) (Indicator, error) {
	kind, err := ParseKind(string(spec.Kind))
	if err != nil {
		return nil, err
	}
	f := registry[kind]
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = DefaultName(kind, spec.Params)
	}
	return f.build(name, spec.Params)
}

// DefaultName 按参数顺序生成名称。
func DefaultName(kind Kind, params map[string]float64) string {
	f, ok := registry[kind]
	if !ok {
		return string(kind)
	}
	parts := []string{string(kind)}
	for _, p := range f.params {
		if v, ok := params[p]; ok {
			parts = append(parts, trimFloat(v))
		}
	}
	return strings.Join(parts, "_")
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func intParam(p map[string]float64, key string, floor int) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrInvalidSpec, key)
	}
	if math.IsNaN(v) || v != math.Trunc(v) || int(v) < floor {
		return 0, fmt.Errorf("%w: %s must be an integer >= %d, got %v", ErrInvalidSpec, key, floor, v)
	}
	return int(v), nil
}
