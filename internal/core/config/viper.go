package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*EngineConfig, error) {
	v := viper.New()

	// Defaults matching DefaultEngineConfig
	v.SetDefault("engine.policy_path", "")
	v.SetDefault("engine.lattice_path", "")
	v.SetDefault("engine.database_url", "")
	v.SetDefault("engine.log_level", "info")
	v.SetDefault("engine.log_format", "json")
	v.SetDefault("engine.subtype_cache_size", 1024)
	v.SetDefault("engine.watch_policy", false)

	// Bind environment variables with QUILL_ prefix
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &EngineConfig{
		PolicyPath:       v.GetString("engine.policy_path"),
		LatticePath:      v.GetString("engine.lattice_path"),
		DatabaseURL:      v.GetString("engine.database_url"),
		LogLevel:         v.GetString("engine.log_level"),
		LogFormat:        v.GetString("engine.log_format"),
		SubtypeCacheSize: v.GetInt("engine.subtype_cache_size"),
		WatchPolicy:      v.GetBool("engine.watch_policy"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
