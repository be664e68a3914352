package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"tradesim/internal/config"
	"tradesim/internal/logger"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath string
	logLevel   string
)

func main() {
	app := cli.NewApp()
	app.Name = "tradesim"
	app.Usage = "event-driven single-symbol backtester"
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Value:       defaultConfigPath,
			Usage:       "path to the yaml config; defaults are used when the file is missing",
			EnvVars:     []string{"TRADESIM_CONFIG"},
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "override app.log_level (debug, info, warn, error)",
			Destination: &logLevel,
		},
	}
	app.Commands = []*cli.Command{
		runCommand,
		fetchCommand,
		verifyCommand,
		serveCommand,
		strategiesCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig 读取配置并初始化日志；返回的 closer 关闭日志文件。
func loadConfig() (*config.Config, func(), error) {
	cfg, err := readConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger.SetFormat(cfg.App.LogFormat)
	level := cfg.App.LogLevel
	if strings.TrimSpace(logLevel) != "" {
		level = logLevel
	}
	logger.SetLevel(level)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	return cfg, closer, nil
}

func readConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			return config.Default()
		}
		return nil, &config.ConfigError{Field: "path", Err: err}
	}
	return config.Load(path)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
