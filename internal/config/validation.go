package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ConfigError 表示配置非法，运行在处理任何 K 线之前终止。
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Invalid builds a ConfigError for field.
func Invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var knownSources = map[string]bool{
	"yahoo":   true,
	"binance": true,
	"alpaca":  true,
	"csv":     true,
	"parquet": true,
	"cache":   true,
}

var knownSizeModes = map[string]bool{
	"units":   true,
	"percent": true,
	"all":     true,
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Run.Validate(); err != nil {
		return err
	}
	if err := c.Indicators.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Results.Enabled && strings.TrimSpace(c.Results.DBPath) == "" {
		return Invalid("results.db_path", "required when results are enabled")
	}
	return nil
}

func (d *DataConfig) validate() error {
	src := strings.ToLower(strings.TrimSpace(d.Source))
	if !knownSources[src] {
		return Invalid("data.source", "unsupported source %q", d.Source)
	}
	if (src == "csv" || src == "parquet") && strings.TrimSpace(d.File) == "" {
		return Invalid("data.file", "required for %s source", src)
	}
	if src == "cache" && !d.CacheEnabled {
		return Invalid("data.cache_enabled", "cache source needs the bar cache")
	}
	if src == "alpaca" && (strings.TrimSpace(d.Alpaca.APIKey) == "" || strings.TrimSpace(d.Alpaca.APISecret) == "") {
		return Invalid("data.alpaca", "api_key and api_secret are required")
	}
	if d.MaxBatch < 0 {
		return Invalid("data.max_batch", "must be >= 0")
	}
	return nil
}

// Validate checks a single run request.
func (r *RunConfig) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return Invalid("run.symbol", "cannot be empty")
	}
	if strings.TrimSpace(r.Strategy) == "" {
		return Invalid("run.strategy", "cannot be empty")
	}
	if math.IsNaN(r.StartingCash) || math.IsInf(r.StartingCash, 0) || r.StartingCash <= 0 {
		return Invalid("run.starting_cash", "must be > 0, got %v", r.StartingCash)
	}
	if math.IsNaN(r.CommissionRate) || r.CommissionRate < 0 || r.CommissionRate >= 1 {
		return Invalid("run.commission_rate", "must be in [0, 1), got %v", r.CommissionRate)
	}
	start, end, err := r.Range()
	if err != nil {
		return &ConfigError{Field: "run.range", Err: err}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return Invalid("run.range", "end %s must be after start %s", r.End, r.Start)
	}
	mode := strings.ToLower(strings.TrimSpace(r.Size.Mode))
	if mode != "" && !knownSizeModes[mode] {
		return Invalid("run.size.mode", "unsupported size mode %q", r.Size.Mode)
	}
	switch mode {
	case "units":
		if r.Size.Value <= 0 {
			return Invalid("run.size.value", "units must be > 0")
		}
	case "percent":
		if r.Size.Value <= 0 || r.Size.Value > 100 {
			return Invalid("run.size.value", "percent must be in (0, 100]")
		}
	}
	for k, v := range r.StrategyParams {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Invalid("run.strategy_params."+k, "must be finite")
		}
	}
	return nil
}

func (i *IndicatorsConfig) validate() error {
	seen := make(map[string]bool, len(i.Extra))
	for idx, spec := range i.Extra {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return Invalid(fmt.Sprintf("indicators.extra[%d].name", idx), "cannot be empty")
		}
		if seen[name] {
			return Invalid(fmt.Sprintf("indicators.extra[%d].name", idx), "duplicate name %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(spec.Kind) == "" {
			return Invalid(fmt.Sprintf("indicators.extra[%d].kind", idx), "cannot be empty")
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return Invalid("notify.telegram", "bot_token and chat_id are required when enabled")
	}
	return nil
}
