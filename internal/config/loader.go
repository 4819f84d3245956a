// Package config loads inventoryctl configuration.
//
// Precedence, lowest to highest: built-in defaults, config file, INVENTORYCTL_*
// environment variables, runtime overrides (command-line flags).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/inventoryctl/pkg/source"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INVENTORYCTL"

// AppName names the per-user config and data directories.
const AppName = "inventoryctl"

// Session persistence backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the full CLI configuration.
type Config struct {
	API     APIConfig       `mapstructure:"api"`
	Session SessionConfig   `mapstructure:"session"`
	Jobs    JobsConfig      `mapstructure:"jobs"`
	Logging LoggingConfig   `mapstructure:"logging"`
	S3      source.S3Config `mapstructure:"s3"`
	Output  OutputConfig    `mapstructure:"output"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

type SessionConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type JobsConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	MaxWait              time.Duration `mapstructure:"max_wait"`
	HistoryPath          string        `mapstructure:"history_path"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load reads configuration from defaults, the default config file (if any),
// the environment and overrides. Each override is a nested map keyed like
// the config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file. An explicit file must exist;
// the default one is optional.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = defaultConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
			if explicit || !missing {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects configurations the CLI cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	switch c.Session.Backend {
	case BackendFile, BackendMemory:
	case BackendRedis:
		if c.Session.RedisURL == "" {
			errs = append(errs, errors.New("session.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend %q is not one of file, redis, memory", c.Session.Backend))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be positive"))
	}
	if c.Jobs.MaxConsecutiveErrors < 1 {
		errs = append(errs, errors.New("jobs.max_consecutive_errors must be >= 1"))
	}
	if c.Jobs.MaxWait <= 0 {
		errs = append(errs, errors.New("jobs.max_wait must be positive"))
	}
	if err := c.S3.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	stateDir := defaultStateDir()

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.burst", 5)

	v.SetDefault("session.backend", BackendFile)
	v.SetDefault("session.dir", stateDir)
	v.SetDefault("session.redis_url", "")
	v.SetDefault("session.redis_prefix", "inventoryctl:session:")

	v.SetDefault("jobs.poll_interval", "3s")
	v.SetDefault("jobs.max_consecutive_errors", 5)
	v.SetDefault("jobs.max_wait", "30m")
	v.SetDefault("jobs.history_path", filepath.Join(stateDir, "history.db"))

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("output.format", "table")
}

// defaultStateDir is the per-user data directory for the session and job
// history ($XDG_DATA_HOME/inventoryctl).
func defaultStateDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// defaultConfigFile returns the first existing file among the standard
// config locations ($XDG_CONFIG_HOME/inventoryctl/config.yaml first), or "".
func defaultConfigFile() string {
	for _, p := range gfconfig.GetAppConfigPaths(AppName) {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

// flatten turns {"api": {"timeout": "5s"}} into {"api.timeout": "5s"}.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
