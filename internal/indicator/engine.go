package indicator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"tradesim/internal/market"
)

// Engine owns a named set of indicators and feeds every bar to each of them
// exactly once. The indicator state is private; callers read Snapshots.
type Engine struct {
	order    []string
	items    map[string]Indicator
	parallel bool
	observed int
}

// EngineOption 调整引擎行为。
type EngineOption func(*Engine)

// WithParallel observes independent indicators concurrently.
func WithParallel(enabled bool) EngineOption {
	return func(e *Engine) { e.parallel = enabled }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{items: make(map[string]Indicator)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add registers ind. Adding after the first Observe is refused since the
// new indicator would miss earlier bars.
func (e *Engine) Add(ind Indicator) error {
	if ind == nil {
		return fmt.Errorf("%w: nil indicator", ErrInvalidSpec)
	}
	if e.observed > 0 {
		return fmt.Errorf("%w: cannot add %s after %d bars", ErrInvalidSpec, ind.Name(), e.observed)
	}
	name := ind.Name()
	if _, dup := e.items[name]; dup {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidSpec, name)
	}
	e.items[name] = ind
	e.order = append(e.order, name)
	return nil
}

// AddSpec builds and registers an indicator from spec.
func (e *Engine) AddSpec(spec Spec) error {
	ind, err := New(spec)
	if err != nil {
		return err
	}
	return e.Add(ind)
}

func (e *Engine) Names() []string {
	return append([]string(nil), e.order...)
}

func (e *Engine) Len() int { return len(e.order) }

// Observed 已处理的 K 线数量。
func (e *Engine) Observed() int { return e.observed }

// MaxWarmup is the longest warm-up among the registered indicators.
func (e *Engine) MaxWarmup() int {
	longest := 0
	for _, name := range e.order {
		if w := e.items[name].WarmupLength(); w > longest {
			longest = w
		}
	}
	return longest
}

// Observe feeds bar to every indicator. In parallel mode each indicator
// runs on its own goroutine; indicators share no state so this only
// reorders work inside the step.
func (e *Engine) Observe(ctx context.Context, bar market.Bar) error {
	e.observed++
	if !e.parallel || len(e.order) < 2 {
		for _, name := range e.order {
			e.items[name].Observe(bar)
		}
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	for _, name := range e.order {
		ind := e.items[name]
		g.Go(func() error {
			ind.Observe(bar)
			return nil
		})
	}
	return g.Wait()
}

// Snapshot captures the current readings.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{readings: make(map[string]Reading, len(e.order)), observed: e.observed}
	for _, name := range e.order {
		ind := e.items[name]
		r := Reading{Name: name, Warmup: ind.WarmupLength(), Ready: ind.Ready()}
		r.Value, r.Defined = ind.Value()
		if ml, ok := ind.(MultiLine); ok {
			r.Lines = ml.Lines()
		}
		snap.readings[name] = r
	}
	return snap
}
