package main

import (
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"productscene/internal/backend"
	"productscene/internal/config"
	"productscene/internal/httpclient"
)

// opener builds the image service the commands talk to.
type opener func(cfg config.Config, logger *slog.Logger) (backend.Service, error)

type commandContext struct {
	envFlag      *string
	logLevelFlag *string
	open         opener

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(envFlag, logLevelFlag *string, open opener) *commandContext {
	if open == nil {
		open = openBackend
	}
	return &commandContext{
		envFlag:      envFlag,
		logLevelFlag: logLevelFlag,
		open:         open,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		if path := strings.TrimSpace(*c.envFlag); path != "" {
			if err := godotenv.Load(path); err != nil {
				c.configErr = err
				return
			}
		} else {
			_ = godotenv.Load()
		}

		cfg := config.Load()
		if lvl := strings.TrimSpace(*c.logLevelFlag); lvl != "" {
			cfg.LogLevel = strings.ToLower(lvl)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func openBackend(cfg config.Config, logger *slog.Logger) (backend.Service, error) {
	if err := cfg.Validate(config.TargetCLI); err != nil {
		return nil, err
	}
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})
	b, err := backend.Open(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}
	return b, nil
}
