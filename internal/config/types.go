package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 tradesim 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Data       DataConfig       `toml:"data"`
	Run        RunConfig        `toml:"run"`
	Indicators IndicatorsConfig `toml:"indicators"`
	Results    ResultsConfig    `toml:"results"`
	Service    ServiceConfig    `toml:"service"`
	Notify     NotifyConfig     `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// DataConfig 描述 K 线数据来源与本地缓存。
type DataConfig struct {
	Source          string       `toml:"source"`
	CachePath       string       `toml:"cache_path"`
	CacheEnabled    bool         `toml:"cache_enabled"`
	File            string       `toml:"file"`
	RESTBaseURL     string       `toml:"rest_base_url"`
	RateLimitPerMin int          `toml:"rate_limit_per_min"`
	MaxBatch        int          `toml:"max_batch"`
	TimeoutSeconds  int          `toml:"timeout_seconds"`
	Alpaca          AlpacaConfig `toml:"alpaca"`
}

type AlpacaConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
	Feed      string `toml:"feed"`
}

// RunConfig is a single backtest request. It is also the JSON body of
// POST /api/runs, hence the dual tags.
type RunConfig struct {
	Symbol         string             `toml:"symbol" json:"symbol"`
	Interval       string             `toml:"interval" json:"interval"`
	Start          string             `toml:"start" json:"start"`
	End            string             `toml:"end" json:"end"`
	StartingCash   float64            `toml:"starting_cash" json:"starting_cash"`
	CommissionRate float64            `toml:"commission_rate" json:"commission_rate"`
	Strategy       string             `toml:"strategy" json:"strategy"`
	StrategyParams map[string]float64 `toml:"strategy_params" json:"strategy_params,omitempty"`
	Size           SizeConfig         `toml:"size" json:"size"`
	PeriodsPerYear float64            `toml:"periods_per_year" json:"periods_per_year,omitempty"`
	EventLog       bool               `toml:"event_log" json:"event_log"`
}

// SizeConfig selects the size policy applied to strategy intents.
// Mode: "units" (Value units), "percent" (Value percent of cash), "all".
type SizeConfig struct {
	Mode  string  `toml:"mode" json:"mode"`
	Value float64 `toml:"value" json:"value"`
}

type IndicatorsConfig struct {
	Parallel bool            `toml:"parallel"`
	Extra    []IndicatorSpec `toml:"extra"`
}

// IndicatorSpec 额外挂载的指标，仅用于日志与结果记录。
type IndicatorSpec struct {
	Name   string             `toml:"name"`
	Kind   string             `toml:"kind"`
	Params map[string]float64 `toml:"params"`
}

type ResultsConfig struct {
	Enabled bool   `toml:"enabled"`
	DBPath  string `toml:"db_path"`
}

type ServiceConfig struct {
	MaxConcurrentRuns int  `toml:"max_concurrent_runs"`
	WatchConfig       bool `toml:"watch_config"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// Range 解析回测起止时间，空值返回零时间。
func (r RunConfig) Range() (time.Time, time.Time, error) {
	start, err := parseDate(r.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("run.start: %w", err)
	}
	end, err := parseDate(r.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("run.end: %w", err)
	}
	return start, end, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
