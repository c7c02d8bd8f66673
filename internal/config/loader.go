package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure.
type TOMLConfig struct {
	HTTP      TOMLHTTPConfig      `toml:"http"`
	Scheduler TOMLSchedulerConfig `toml:"scheduler"`
	API       TOMLAPIConfig       `toml:"api"`
	Registry  TOMLRegistryConfig  `toml:"registry"`
	DataDir   string              `toml:"data_dir"`
	DevMode   bool                `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML.
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLSchedulerConfig represents scheduler configuration in TOML.
type TOMLSchedulerConfig struct {
	IntervalMultiplier float64 `toml:"interval_multiplier"`
	MaxConcurrentPolls int     `toml:"max_concurrent_polls"`
	PollTimeout        string  `toml:"poll_timeout"`
	Tick               string  `toml:"tick"`
	Stagger            string  `toml:"stagger"`
	MinInterval        string  `toml:"min_interval"`
}

// TOMLAPIConfig represents the external API client configuration in TOML.
type TOMLAPIConfig struct {
	Base    string `toml:"base"`
	Version string `toml:"version"`
	Timeout string `toml:"timeout"`
}

// TOMLRegistryConfig represents the registry cache configuration in TOML.
type TOMLRegistryConfig struct {
	CacheBackend string `toml:"cache_backend"`
	RedisAddr    string `toml:"redis_addr"`
	CacheTTL     string `toml:"cache_ttl"`
}

// ConfigPaths lists the paths to search for config files.
var ConfigPaths = []string{
	"config.toml",
	"controller.toml",
	"./config/config.toml",
	"/etc/seedwatch/config.toml",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("SEEDWATCH_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct.
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Scheduler: SchedulerConfig{
			IntervalMultiplier: tc.Scheduler.IntervalMultiplier,
			MaxConcurrentPolls: tc.Scheduler.MaxConcurrentPolls,
		},
		API: APIConfig{
			Base:    tc.API.Base,
			Version: tc.API.Version,
		},
		Registry: RegistryConfig{
			CacheBackend: tc.Registry.CacheBackend,
			RedisAddr:    tc.Registry.RedisAddr,
		},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	if cfg.Scheduler.IntervalMultiplier != 0 && (cfg.Scheduler.IntervalMultiplier < 0.001 || cfg.Scheduler.IntervalMultiplier > 1.0) {
		return nil, fmt.Errorf("scheduler.interval_multiplier must be in [0.001, 1.0], got %v", cfg.Scheduler.IntervalMultiplier)
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{tc.Scheduler.PollTimeout, &cfg.Scheduler.PollTimeout},
		{tc.Scheduler.Tick, &cfg.Scheduler.Tick},
		{tc.Scheduler.Stagger, &cfg.Scheduler.Stagger},
		{tc.Scheduler.MinInterval, &cfg.Scheduler.MinInterval},
		{tc.API.Timeout, &cfg.API.Timeout},
		{tc.Registry.CacheTTL, &cfg.Registry.CacheTTL},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// mergeConfigs merges a file-loaded config with the env-loaded config.
// override always wins when its env var was explicitly set, even if the
// value set happens to equal the field's zero-default; presence of the env
// var is checked directly with os.LookupEnv rather than inferred from the
// value, since an operator may legitimately set HTTP_PORT=8090.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if _, ok := os.LookupEnv("HTTP_PORT"); ok {
		result.HTTP.Port = override.HTTP.Port
	}
	if _, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	if _, ok := os.LookupEnv("DEV_INTERVAL_MULTIPLIER"); ok {
		result.Scheduler.IntervalMultiplier = override.Scheduler.IntervalMultiplier
	}
	if _, ok := os.LookupEnv("MAX_CONCURRENT_POLLS"); ok {
		result.Scheduler.MaxConcurrentPolls = override.Scheduler.MaxConcurrentPolls
	}
	if _, ok := os.LookupEnv("POLL_TIMEOUT_MS"); ok {
		result.Scheduler.PollTimeout = override.Scheduler.PollTimeout
	}
	if _, ok := os.LookupEnv("SCHEDULER_TICK"); ok {
		result.Scheduler.Tick = override.Scheduler.Tick
	}
	if _, ok := os.LookupEnv("SCHEDULER_STAGGER"); ok {
		result.Scheduler.Stagger = override.Scheduler.Stagger
	}
	if _, ok := os.LookupEnv("SCHEDULER_MIN_INTERVAL"); ok {
		result.Scheduler.MinInterval = override.Scheduler.MinInterval
	}

	if _, ok := os.LookupEnv("TORBOX_API_BASE"); ok {
		result.API.Base = override.API.Base
	}
	if _, ok := os.LookupEnv("TORBOX_API_VERSION"); ok {
		result.API.Version = override.API.Version
	}
	if _, ok := os.LookupEnv("TORBOX_API_TIMEOUT"); ok {
		result.API.Timeout = override.API.Timeout
	}

	if _, ok := os.LookupEnv("REGISTRY_CACHE_BACKEND"); ok {
		result.Registry.CacheBackend = override.Registry.CacheBackend
	}
	if _, ok := os.LookupEnv("REDIS_ADDR"); ok {
		result.Registry.RedisAddr = override.Registry.RedisAddr
	}
	if _, ok := os.LookupEnv("REGISTRY_CACHE_TTL"); ok {
		result.Registry.CacheTTL = override.Registry.CacheTTL
	}

	if _, ok := os.LookupEnv("DATA_DIR"); ok {
		result.DataDir = override.DataDir
	}
	if _, ok := os.LookupEnv("CONTROLLER_DEV"); ok {
		result.DevMode = override.DevMode
	}

	return &result
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# seedwatch controller configuration
# Environment variables override these settings

[http]
port = 8090
cors_origins = ["http://localhost:4200"]

[scheduler]
interval_multiplier = 1.0
max_concurrent_polls = 7
poll_timeout = "5m"
tick = "30s"
stagger = "0s"
min_interval = "5m"

[api]
base = "https://api.torbox.app"
version = "v1"
timeout = "30s"

[registry]
cache_backend = "memory"  # memory or redis
redis_addr = "localhost:6379"
cache_ttl = "90s"

data_dir = "./data"
dev_mode = false
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
