// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/horadus/config.yaml",
	"/etc/horadus/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces Horadus environment variables. HORADUS_DATABASE__URL
// maps to database.url; double underscores separate path segments.
const envPrefix = "HORADUS_"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: struct defaults.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Layer 2: optional YAML config file.
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority).
	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		trimmed := strings.TrimPrefix(key, envPrefix)
		return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	resolveSecretFiles(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if override := os.Getenv(ConfigPathEnvVar); override != "" {
		return override
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// resolveSecretFiles applies the *_FILE indirection for secret values:
// when the companion environment variable is set, the secret is read from
// the named file and trailing whitespace is stripped.
func resolveSecretFiles(cfg *Config) {
	readInto := func(envVar string, target *string) {
		path := os.Getenv(envVar)
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		*target = strings.TrimSpace(string(data))
	}

	readInto("HORADUS_SECURITY__SECRET_KEY_FILE", &cfg.Security.SecretKey)
	readInto("HORADUS_SECURITY__ADMIN_API_KEY_FILE", &cfg.Security.AdminAPIKey)
	readInto("HORADUS_EMBEDDING__API_KEY_FILE", &cfg.Embedding.APIKey)
	readInto("HORADUS_LLM__TIER1_PRIMARY__API_KEY_FILE", &cfg.LLM.Tier1Primary.APIKey)
	readInto("HORADUS_LLM__TIER1_SECONDARY__API_KEY_FILE", &cfg.LLM.Tier1Secondary.APIKey)
	readInto("HORADUS_LLM__TIER2_PRIMARY__API_KEY_FILE", &cfg.LLM.Tier2Primary.APIKey)
	readInto("HORADUS_LLM__TIER2_SECONDARY__API_KEY_FILE", &cfg.LLM.Tier2Secondary.APIKey)
	readInto("HORADUS_DATABASE__URL_FILE", &cfg.Database.URL)
	readInto("HORADUS_REDIS__URL_FILE", &cfg.Redis.URL)
}
