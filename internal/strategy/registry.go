package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"tradesim/internal/broker"
	"tradesim/internal/config"
)

// Definition 描述一个可按名称构建的策略。
type Definition struct {
	Name        string
	Description string
	// Schema is a JSON Schema for the numeric params object.
	Schema   map[string]any
	Defaults map[string]float64
	Build    func(params map[string]float64, size broker.SizePolicy) (Strategy, error)
}

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry maps strategy names to definitions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Default returns a registry holding the builtin strategies.
func Default() *Registry {
	r := NewRegistry()
	for _, def := range builtins() {
		if err := r.Register(def); err != nil {
			panic(fmt.Sprintf("builtin strategy %s: %v", def.Name, err))
		}
	}
	return r
}

func (r *Registry) Register(def Definition) error {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" || def.Build == nil {
		return fmt.Errorf("strategy definition needs a name and a builder")
	}
	var compiled *jsonschema.Schema
	if len(def.Schema) > 0 {
		sch, err := compileSchema(name, def.Schema)
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		compiled = sch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("strategy %s already registered", name)
	}
	def.Name = name
	r.entries[name] = entry{def: def, schema: compiled}
	return nil
}

// Build merges params over the defaults, validates them and constructs the
// strategy. Every failure is a ConfigError.
func (r *Registry) Build(name string, params map[string]float64, size broker.SizePolicy) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, config.Invalid("run.strategy", "unknown strategy %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	merged := make(map[string]float64, len(e.def.Defaults)+len(params))
	for k, v := range e.def.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[strings.ToLower(k)] = v
	}
	if e.schema != nil {
		doc := make(map[string]any, len(merged))
		for k, v := range merged {
			doc[k] = v
		}
		if err := e.schema.Validate(doc); err != nil {
			return nil, &config.ConfigError{Field: "run.strategy_params", Err: err}
		}
	}
	if size == nil {
		size = broker.Units(1)
	}
	s, err := e.def.Build(merged, size)
	if err != nil {
		return nil, &config.ConfigError{Field: "run.strategy_params", Err: err}
	}
	return s, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].def)
	}
	return out
}

func compileSchema(name string, data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	url := name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// decodeParams decodes merged params into a tagged struct.
func decodeParams(params map[string]float64, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

// SizeFromConfig maps the run size section to a broker size policy.
func SizeFromConfig(cfg config.SizeConfig) (broker.SizePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "units":
		if cfg.Value <= 0 {
			return broker.Units(1), nil
		}
		return broker.Units(cfg.Value), nil
	case "percent":
		return broker.CashPercent(cfg.Value), nil
	case "all":
		return broker.CashPercent(100), nil
	default:
		return nil, config.Invalid("run.size.mode", "unsupported size mode %q", cfg.Mode)
	}
}

func intSchema(lo int) map[string]any {
	return map[string]any{"type": "integer", "minimum": lo}
}

func rangeSchema(lo, hi float64) map[string]any {
	return map[string]any{"type": "number", "minimum": lo, "maximum": hi}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
