// Package config loads the gateway's configuration record. This is the only
// package (besides cmd/gateway) that knows viper exists — every core
// component downstream consumes the plain Config struct from types.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load reads configuration in increasing priority: built-in defaults, the
// global file at ~/.llm-gateway/config.yaml, a project-local ./config.yaml
// (merged over the global layer), then GATEWAY_-prefixed environment
// variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".llm-gateway")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		local := viper.New()
		local.SetConfigFile("./config.yaml")
		if err := local.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(local.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge local config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 8787)

	v.SetDefault("auth.tokenStorePath", filepath.Join(os.Getenv("HOME"), ".llm-gateway", "tokens.json"))
	v.SetDefault("auth.watchFiles", []string{})

	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "json")
}
