package indicator

import (
	"errors"
	"fmt"
	"sort"
)

// Reading 单个指标在某根 K 线上的只读读数。
type Reading struct {
	Name   string             `json:"name"`
	Value  float64            `json:"value"`
	Ready  bool               `json:"ready"`
	Warmup int                `json:"warmup"`
	Lines  map[string]float64 `json:"lines,omitempty"`
	// Defined is false when the value is undefined even though the
	// indicator is warm, e.g. VWAP over a zero-volume window.
	Defined bool `json:"defined"`
}

// StateError is returned when an indicator is read before it is usable.
// It matches ErrNotReady with errors.Is.
type StateError struct {
	Name     string
	Observed int
	Warmup   int
}

func (e *StateError) Error() string {
	return fmt.Sprintf("indicator %s not ready: %d/%d bars", e.Name, e.Observed, e.Warmup)
}

func (e *StateError) Is(target error) bool { return target == ErrNotReady }

// Snapshot is an immutable view of all indicators after one bar.
type Snapshot struct {
	readings map[string]Reading
	observed int
}

// Get returns ErrUnknown for unregistered names and a *StateError when the
// indicator has no usable value yet.
func (s Snapshot) Get(name string) (Reading, error) {
	r, ok := s.readings[name]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	if !r.Ready || !r.Defined {
		return r, &StateError{Name: name, Observed: s.observed, Warmup: r.Warmup}
	}
	return r, nil
}

// Value is the sentinel form of Get: ok is false when not ready.
func (s Snapshot) Value(name string) (float64, bool) {
	r, err := s.Get(name)
	if err != nil {
		return 0, false
	}
	return r.Value, true
}

// Line reads a named output of a multi-line indicator.
func (s Snapshot) Line(name, line string) (float64, bool) {
	r, err := s.Get(name)
	if err != nil || r.Lines == nil {
		return 0, false
	}
	v, ok := r.Lines[line]
	return v, ok
}

// Ready reports whether every named indicator is usable.
func (s Snapshot) Ready(names ...string) bool {
	for _, name := range names {
		if _, err := s.Get(name); err != nil {
			return false
		}
	}
	return true
}

// Values flattens ready readings into name -> value, with multi-line
// outputs as name.line. Used for event payloads.
func (s Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(s.readings))
	for name, r := range s.readings {
		if !r.Ready || !r.Defined {
			continue
		}
		out[name] = r.Value
		for line, v := range r.Lines {
			out[name+"."+line] = v
		}
	}
	return out
}

// Names 返回排序后的指标名称。
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.readings))
	for name := range s.readings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsNotReady reports whether err is a not-ready indicator read.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
