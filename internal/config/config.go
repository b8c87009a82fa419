// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

// Package config loads host process configuration from defaults, an
// optional YAML file, environment variables, and CLI flags, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config is the host process's runtime configuration.
type Config struct {
	DataDir           string        `koanf:"data_dir"`
	LogFormat         string        `koanf:"log_format"`
	MetricsAddr       string        `koanf:"metrics_addr"`
	IPCAddr           string        `koanf:"ipc_addr"`
	InitTimeout       time.Duration `koanf:"init_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	DispatchWorkers   int           `koanf:"dispatch_workers"`
}

// Defaults returns the configuration baseline applied before any file, env,
// or flag overrides.
func Defaults() Config {
	return Config{
		DataDir:         "./data",
		LogFormat:       "json",
		MetricsAddr:     "127.0.0.1:9100",
		IPCAddr:         "127.0.0.1:8781",
		InitTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		DispatchWorkers: 0, // 0 means runtime.GOMAXPROCS
	}
}

// Load layers defaults, an optional YAML config file, environment variables
// prefixed PLUGINHOST_, and any bound pflag.FlagSet, returning the merged
// Config.
func Load(configPath string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	def := Defaults()
	defaultsMap := map[string]any{
		"data_dir":         def.DataDir,
		"log_format":       def.LogFormat,
		"metrics_addr":     def.MetricsAddr,
		"ipc_addr":         def.IPCAddr,
		"init_timeout":     def.InitTimeout,
		"shutdown_timeout": def.ShutdownTimeout,
		"dispatch_workers": def.DispatchWorkers,
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("PLUGINHOST_", ".", envKeyTransform), nil); err != nil {
		return Config{}, fmt.Errorf("load config from environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, fmt.Errorf("load config from flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func envKeyTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "PLUGINHOST_"))
}
