package config

import "strings"

// 默认值常量，回测默认参数沿用 AAPL 日线示例。
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppHTTPAddr    = ":9991"
	defaultDataSource     = "yahoo"
	defaultDataCachePath  = "data/bars"
	defaultYahooREST      = "https://query1.finance.yahoo.com"
	defaultBinanceREST    = "https://fapi.binance.com"
	defaultRateLimit      = 60
	defaultMaxBatch       = 1000
	defaultTimeoutSeconds = 15
	defaultAlpacaFeed     = "sip"
	defaultRunSymbol      = "AAPL"
	defaultRunInterval    = "1d"
	defaultRunStart       = "2021-01-01"
	defaultRunEnd         = "2022-12-31"
	defaultStartingCash   = 100000
	defaultCommissionRate = 0.001
	defaultRunStrategy    = "rsi"
	defaultSizeMode       = "units"
	defaultSizeUnits      = 1
	defaultPeriodsPerYear = 252
	defaultResultsDBPath  = "data/results.db"
	defaultMaxConcurrent  = 2
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Run.applyDefaults(keys)
	c.Results.applyDefaults(keys)
	c.Service.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.cache_path", &d.CachePath, defaultDataCachePath),
		boolFieldDefault("data.cache_enabled", &d.CacheEnabled, true),
		stringFieldDefault("data.alpaca.feed", &d.Alpaca.Feed, defaultAlpacaFeed),
		fieldDefault{
			key:   "data.rate_limit_per_min",
			need:  func() bool { return d.RateLimitPerMin <= 0 },
			apply: func() { d.RateLimitPerMin = defaultRateLimit },
		},
		fieldDefault{
			key:   "data.max_batch",
			need:  func() bool { return d.MaxBatch <= 0 },
			apply: func() { d.MaxBatch = defaultMaxBatch },
		},
		fieldDefault{
			key:   "data.timeout_seconds",
			need:  func() bool { return d.TimeoutSeconds <= 0 },
			apply: func() { d.TimeoutSeconds = defaultTimeoutSeconds },
		},
	)
	if strings.TrimSpace(d.RESTBaseURL) == "" {
		switch strings.ToLower(strings.TrimSpace(d.Source)) {
		case "binance":
			d.RESTBaseURL = defaultBinanceREST
		case "yahoo":
			d.RESTBaseURL = defaultYahooREST
		}
	}
}

func (r *RunConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("run.symbol", &r.Symbol, defaultRunSymbol),
		stringFieldDefault("run.interval", &r.Interval, defaultRunInterval),
		stringFieldDefault("run.start", &r.Start, defaultRunStart),
		stringFieldDefault("run.end", &r.End, defaultRunEnd),
		stringFieldDefault("run.strategy", &r.Strategy, defaultRunStrategy),
		stringFieldDefault("run.size.mode", &r.Size.Mode, defaultSizeMode),
		fieldDefault{
			key:   "run.starting_cash",
			need:  func() bool { return r.StartingCash == 0 },
			apply: func() { r.StartingCash = defaultStartingCash },
		},
		fieldDefault{
			key:   "run.commission_rate",
			apply: func() { r.CommissionRate = defaultCommissionRate },
		},
		fieldDefault{
			key:   "run.size.value",
			need:  func() bool { return r.Size.Value == 0 && strings.EqualFold(r.Size.Mode, defaultSizeMode) },
			apply: func() { r.Size.Value = defaultSizeUnits },
		},
		fieldDefault{
			key:   "run.periods_per_year",
			need:  func() bool { return r.PeriodsPerYear <= 0 },
			apply: func() { r.PeriodsPerYear = defaultPeriodsPerYear },
		},
	)
}

// ApplyRunDefaults fills zero fields of a request that did not come from a
// config file, e.g. an HTTP body. Explicit zero commission is kept.
func (r *RunConfig) ApplyRunDefaults(base RunConfig) {
	if strings.TrimSpace(r.Symbol) == "" {
		r.Symbol = base.Symbol
	}
	if strings.TrimSpace(r.Interval) == "" {
		r.Interval = base.Interval
	}
	if strings.TrimSpace(r.Start) == "" {
		r.Start = base.Start
	}
	if strings.TrimSpace(r.End) == "" {
		r.End = base.End
	}
	if strings.TrimSpace(r.Strategy) == "" {
		r.Strategy = base.Strategy
	}
	if r.StartingCash == 0 {
		r.StartingCash = base.StartingCash
	}
	if strings.TrimSpace(r.Size.Mode) == "" {
		r.Size = base.Size
	}
	if r.PeriodsPerYear <= 0 {
		r.PeriodsPerYear = base.PeriodsPerYear
	}
}

func (r *ResultsConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("results.enabled", &r.Enabled, true),
		stringFieldDefault("results.db_path", &r.DBPath, defaultResultsDBPath),
	)
}

func (s *ServiceConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "service.max_concurrent_runs",
			need:  func() bool { return s.MaxConcurrentRuns <= 0 },
			apply: func() { s.MaxConcurrentRuns = defaultMaxConcurrent },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
