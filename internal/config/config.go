package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量覆盖前缀，如 TRADESIM_RUN_SYMBOL。
const EnvPrefix = "TRADESIM"

// Load 读取配置文件（含 include），应用默认值并校验。
func Load(path string) (*Config, error) {
	files, err := resolveConfigIncludes(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Err: err}
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, &ConfigError{Field: "path", Err: fmt.Errorf("read %s: %w", file, err)}
		}
	}
	return decode(v)
}

// Default returns the defaults plus environment overrides, for runs without
// a config file.
func Default() (*Config, error) {
	return decode(viper.New())
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvOverrides(v)
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			timeToStringHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode: %w", err)}
	}
	setKeys := make(keySet)
	markSetKeys("", v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// timeToStringHook YAML 会把未加引号的日期解析为 time.Time。
func timeToStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if ts, ok := data.(time.Time); ok {
		if ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0 {
			return ts.UTC().Format("2006-01-02"), nil
		}
		return ts.UTC().Format(time.RFC3339), nil
	}
	return data, nil
}

// envKeys 可通过环境变量覆盖的键，主要是密钥。
var envKeys = []string{
	"data.alpaca.api_key",
	"data.alpaca.api_secret",
	"notify.telegram.bot_token",
	"notify.telegram.chat_id",
	"run.symbol",
	"app.log_level",
}

func bindEnvOverrides(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	part := viper.New()
	part.SetConfigFile(path)
	if err := part.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(part.AllSettings())
}

// includeWalker 按深度优先展开 include，被包含文件先于包含者合并。
type includeWalker struct {
	done    map[string]bool
	active  map[string]bool
	ordered []string
}

func resolveConfigIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty config path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{done: map[string]bool{}, active: map[string]bool{}}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.ordered, nil
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	switch {
	case w.active[path]:
		return fmt.Errorf("include cycle at %s", path)
	case w.done[path]:
		return nil
	}
	w.active[path] = true
	defer delete(w.active, path)

	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("include of %s: %w", path, err)
	}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.done[path] = true
	w.ordered = append(w.ordered, path)
	return nil
}

func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if !v.IsSet("include") {
		return nil, nil
	}
	raw, ok := v.Get("include").([]any)
	if !ok {
		return nil, fmt.Errorf("include must be a list of paths")
	}
	var out []string
	for _, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include entry %v is not a string", item)
		}
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// markSetKeys records every leaf key present in the merged settings so
// defaults only fill what the user left out.
func markSetKeys(prefix string, node any, dest keySet) {
	children, isMap := asStringMap(node)
	if !isMap {
		if prefix != "" {
			dest.mark(prefix)
		}
		return
	}
	for k, child := range children {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		markSetKeys(key, child, dest)
	}
}

func asStringMap(node any) (map[string]any, bool) {
	switch m := node.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			if ks, ok := k.(string); ok {
				out[ks] = v
			}
		}
		return out, true
	}
	return nil, false
}
