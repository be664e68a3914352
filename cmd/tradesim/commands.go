package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"tradesim/internal/backtest"
	"tradesim/internal/config"
	"tradesim/internal/datasource"
	"tradesim/internal/indicator"
	"tradesim/internal/logger"
	"tradesim/internal/notifier"
	"tradesim/internal/strategy"
	backtesthttp "tradesim/internal/transport/http/backtest"
)

// runFlags 覆盖配置文件中的 run 段。
var runFlags = []cli.Flag{
	&cli.StringFlag{Name: "symbol", Usage: "ticker, e.g. AAPL or BTCUSDT"},
	&cli.StringFlag{Name: "interval", Usage: "bar interval, e.g. 1d, 1h"},
	&cli.StringFlag{Name: "start", Usage: "start date (2006-01-02 or RFC3339)"},
	&cli.StringFlag{Name: "end", Usage: "end date (2006-01-02 or RFC3339)"},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run one backtest and print the report",
	Flags: append(append([]cli.Flag{}, runFlags...),
		&cli.StringFlag{Name: "strategy", Usage: "strategy name, see `tradesim strategies`"},
		&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "strategy param key=value, repeatable"},
		&cli.Float64Flag{Name: "cash", Usage: "starting cash"},
		&cli.Float64Flag{Name: "commission", Usage: "commission rate, e.g. 0.001"},
		&cli.BoolFlag{Name: "events", Usage: "log every order/trade event"},
		&cli.StringFlag{Name: "out", Usage: "write the report to a .json or .yaml file"},
	),
	Action: runBacktest,
}

var fetchCommand = &cli.Command{
	Name:  "fetch",
	Usage: "download bars into the local sqlite cache",
	Flags: append(append([]cli.Flag{}, runFlags...),
		&cli.BoolFlag{Name: "check", Usage: "print cache integrity after fetching"},
	),
	Action: fetchBars,
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "cross-check incremental indicators against TA-Lib on the loaded feed",
	Flags: append(append([]cli.Flag{}, runFlags...),
		&cli.StringFlag{Name: "strategy", Usage: "verify this strategy's indicators"},
		&cli.Float64Flag{Name: "tolerance", Value: indicator.DefaultTolerance, Usage: "relative tolerance"},
	),
	Action: verifyIndicators,
}

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "start the HTTP API with metrics",
	Flags:  []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address, overrides app.http_addr"}},
	Action: serve,
}

var strategiesCommand = &cli.Command{
	Name:   "strategies",
	Usage:  "list builtin strategies with their parameter schemas",
	Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "print JSON instead of YAML"}},
	Action: listStrategies,
}

func applyRunFlags(c *cli.Context, rc *config.RunConfig) error {
	for name, dst := range map[string]*string{
		"symbol":   &rc.Symbol,
		"interval": &rc.Interval,
		"start":    &rc.Start,
		"end":      &rc.End,
	} {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet("strategy") {
		rc.Strategy = c.String("strategy")
	}
	if c.IsSet("cash") {
		rc.StartingCash = c.Float64("cash")
	}
	if c.IsSet("commission") {
		rc.CommissionRate = c.Float64("commission")
	}
	if c.IsSet("events") {
		rc.EventLog = c.Bool("events")
	}
	params, err := parseParams(c.StringSlice("param"))
	if err != nil {
		return err
	}
	if len(params) > 0 {
		merged := make(map[string]float64, len(rc.StrategyParams)+len(params))
		for k, v := range rc.StrategyParams {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		rc.StrategyParams = merged
	}
	return nil
}

func parseParams(raw []string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for _, kv := range raw {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, config.Invalid("param", "expected key=value, got %q", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, config.Invalid("param", "%s: %v", key, err)
		}
		out[strings.TrimSpace(key)] = f
	}
	return out, nil
}

// specsFromConfig 把配置中的额外指标转换为引擎 Spec。
func specsFromConfig(extra []config.IndicatorSpec) ([]indicator.Spec, error) {
	out := make([]indicator.Spec, 0, len(extra))
	for i, spec := range extra {
		kind, err := indicator.ParseKind(spec.Kind)
		if err != nil {
			return nil, config.Invalid(fmt.Sprintf("indicators.extra[%d].kind", i), "%v", err)
		}
		out = append(out, indicator.Spec{Name: spec.Name, Kind: kind, Params: spec.Params})
	}
	return out, nil
}

// app 聚合一次命令需要的依赖。
type app struct {
	cfg     *config.Config
	loader  *datasource.Loader
	results *backtest.ResultStore
	svc     *backtest.Service
}

func newApp(cfg *config.Config) (*app, error) {
	loader, err := datasource.NewFromConfig(cfg.Data)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, loader: loader}
	if cfg.Results.Enabled {
		store, err := backtest.NewResultStore(cfg.Results.DBPath)
		if err != nil {
			a.close()
			return nil, err
		}
		a.results = store
	}
	extra, err := specsFromConfig(cfg.Indicators.Extra)
	if err != nil {
		a.close()
		return nil, err
	}
	scfg := backtest.ServiceConfig{
		Loader:        loader,
		Registry:      strategy.Default(),
		Results:       a.results,
		Metrics:       backtest.NewMetrics(),
		Extra:         extra,
		Parallel:      cfg.Indicators.Parallel,
		Defaults:      cfg.Run,
		MaxConcurrent: cfg.Service.MaxConcurrentRuns,
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		scfg.Notifier = notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}
	svc, err := backtest.NewService(scfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) close() {
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("close results: %v", err)
		}
	}
	if err := a.loader.Close(); err != nil {
		logger.Warnf("close bar cache: %v", err)
	}
}

func withApp(fn func(*app) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func runBacktest(c *cli.Context) error {
	return withApp(func(a *app) error {
		rc := a.cfg.Run
		if err := applyRunFlags(c, &rc); err != nil {
			return err
		}
		_, res, err := a.svc.Run(c.Context, rc, nil)
		if err != nil {
			return err
		}
		report := res.Report
		fmt.Print(report.Text())
		fmt.Print(report.ExtrasText())
		if out := c.String("out"); out != "" {
			if err := writeReport(out, report); err != nil {
				return err
			}
			logger.Infof("report written to %s", out)
		}
		return nil
	})
}

func writeReport(path string, report interface {
	JSON() ([]byte, error)
	YAML() ([]byte, error)
}) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = report.JSON()
	case ".yaml", ".yml":
		data, err = report.YAML()
	default:
		return config.Invalid("out", "unsupported extension %q, use .json or .yaml", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func fetchBars(c *cli.Context) error {
	return withApp(func(a *app) error {
		rc := a.cfg.Run
		if err := applyRunFlags(c, &rc); err != nil {
			return err
		}
		start, end, err := rc.Range()
		if err != nil {
			return config.Invalid("run", "%v", err)
		}
		rep, err := a.loader.Fetch(c.Context, rc.Symbol, rc.Interval, start, end)
		if err != nil {
			return err
		}
		if err := printYAML(rep); err != nil {
			return err
		}
		if !c.Bool("check") {
			return nil
		}
		integrity, err := a.loader.Verify(c.Context, rc.Symbol, rc.Interval, start, end)
		if err != nil {
			return err
		}
		return printYAML(integrity)
	})
}

func verifyIndicators(c *cli.Context) error {
	return withApp(func(a *app) error {
		rc := a.cfg.Run
		if err := applyRunFlags(c, &rc); err != nil {
			return err
		}
		rc, err := a.svc.Normalize(rc)
		if err != nil {
			return err
		}
		start, end, err := rc.Range()
		if err != nil {
			return config.Invalid("run", "%v", err)
		}
		feed, err := a.loader.LoadFeed(c.Context, rc.Symbol, rc.Interval, start, end)
		if err != nil {
			return err
		}
		size, err := strategy.SizeFromConfig(rc.Size)
		if err != nil {
			return err
		}
		strat, err := a.svc.Registry().Build(rc.Strategy, rc.StrategyParams, size)
		if err != nil {
			return err
		}
		extra, err := specsFromConfig(a.cfg.Indicators.Extra)
		if err != nil {
			return err
		}
		specs := append(strat.Indicators(), extra...)
		results, err := indicator.Verify(feed, specs, c.Float64("tolerance"))
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			switch {
			case r.Skipped != "":
				fmt.Printf("%-16s SKIP  %s\n", r.Name, r.Skipped)
			case r.OK():
				fmt.Printf("%-16s OK    %d values\n", r.Name, r.Compared)
			default:
				failed++
				m := r.Mismatches[0]
				fmt.Printf("%-16s FAIL  %d mismatches, first at bar %d %s: %.10f vs %.10f\n",
					r.Name, len(r.Mismatches), m.Index, m.Line, m.Incremental, m.Reference)
			}
		}
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d indicator(s) disagree with TA-Lib", failed), 1)
		}
		return nil
	})
}

func serve(c *cli.Context) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	a.svc.SetContext(ctx)

	if cfg.Service.WatchConfig {
		if _, statErr := os.Stat(configPath); statErr == nil {
			w, err := config.Watch(configPath)
			if err != nil {
				return err
			}
			w.OnChange(func(next *config.Config) {
				a.svc.SetDefaults(next.Run)
				logger.SetLevel(next.App.LogLevel)
				logger.Infof("run defaults reloaded: %s %s %s", next.Run.Strategy, next.Run.Symbol, next.Run.Interval)
			})
		}
	}

	addr := cfg.App.HTTPAddr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	srv, err := backtesthttp.NewServer(backtesthttp.Config{Addr: addr, Svc: a.svc, Data: a.loader})
	if err != nil {
		return err
	}
	err = srv.Start(ctx)
	cancel()
	a.svc.Wait()
	return err
}

type strategyInfo struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Defaults    map[string]float64 `yaml:"defaults,omitempty"`
	Schema      map[string]any     `yaml:"schema,omitempty"`
}

func listStrategies(c *cli.Context) error {
	defs := strategy.Default().Definitions()
	out := make([]strategyInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, strategyInfo{Name: d.Name, Description: d.Description, Defaults: d.Defaults, Schema: d.Schema})
	}
	if c.Bool("json") {
		return printJSON(out)
	}
	return printYAML(out)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
