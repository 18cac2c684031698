package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig configures the persistence backend (PostgREST-style store).
type StoreConfig struct {
	URL string `yaml:"url" env:"STORE_URL"`
	Key string `yaml:"key" env:"STORE_KEY"`
}

// CacheConfig configures the Redis-backed cache pool.
type CacheConfig struct {
	URL              string        `yaml:"url" env:"CACHE_URL"`
	Password         string        `yaml:"password" env:"CACHE_PASSWORD,optional"`
	MinPoolSize      int           `yaml:"pool_min" env:"CACHE_POOL_MIN,default=10"`
	MaxPoolSize      int           `yaml:"pool_max" env:"CACHE_POOL_MAX,default=50"`
	DefaultTTL       time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL,default=5m"`
	EvictionIdle     time.Duration `yaml:"eviction_idle" env:"CACHE_EVICTION_IDLE,default=10m"`
	MemoryThresholds string        `yaml:"memory_threshold" env:"CACHE_MEMORY_THRESHOLD,default=512MB"`
}

// UpstreamConfig configures the upstream wallet-activity stream.
type UpstreamConfig struct {
	URL    string `yaml:"url" env:"UPSTREAM_URL"`
	APIKey string `yaml:"api_key" env:"UPSTREAM_API_KEY,optional"`
}

// PrivacyConfig configures the wallet metadata encryption path.
type PrivacyConfig struct {
	EncryptionSalt string `yaml:"encryption_salt" env:"PRIVACY_ENCRYPTION_SALT"`
}

// RegistryConfig configures auto-registration behavior. AutoRegisterList is
// populated separately from REGISTRY_AUTO_REGISTER_LIST since envdecode has
// no CSV-to-slice decoder.
type RegistryConfig struct {
	AutoRegister     bool     `yaml:"auto_register" env:"REGISTRY_AUTO_REGISTER,default=false"`
	AutoRegisterList []string `yaml:"auto_register_list"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL,default=info"`
	Format string `yaml:"format" env:"LOG_FORMAT,default=json"`
}

// ServerConfig configures process-level concerns.
type ServerConfig struct {
	Environment string `yaml:"environment" env:"DEPLOY_ENVIRONMENT,default=development"`
	Port        int    `yaml:"port" env:"PORT,default=8080"`
}

// Config is the top-level configuration for the wallet memory layer.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Privacy  PrivacyConfig  `yaml:"privacy"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads a .env file if present, overlays a YAML file named by
// WALLETMEMORY_CONFIG_FILE (if set), then decodes environment variables
// into Config using envdecode — env vars always win over the file,
// following the teacher's pkg/config layering of file defaults under
// environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("WALLETMEMORY_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !isNoTargetFieldsErr(err) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if list := os.Getenv("REGISTRY_AUTO_REGISTER_LIST"); list != "" {
		cfg.Registry.AutoRegisterList = SplitAndTrimCSV(list)
	}

	return &cfg, nil
}

// loadFile overlays YAML file contents onto cfg. A missing file is not an
// error, matching the teacher's loadFromFile tolerance for an absent path.
func loadFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// isNoTargetFieldsErr mirrors the teacher's tolerance of envdecode's
// "no target fields were set" error, which fires when every field in a
// substruct used its default and none of its env vars were present.
func isNoTargetFieldsErr(err error) bool {
	return err != nil && err.Error() == "envdecode: no target fields are set in the struct"
}
