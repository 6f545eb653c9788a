// config.go - Configuration for walletd and validatord.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Log settings.
type Log struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	AuditFile string `mapstructure:"audit_file"`
}

// Storage selects where wallet state lives.
type Storage struct {
	Backend   string `mapstructure:"backend"` // file | redis
	DataDir   string `mapstructure:"data_dir"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// Nullifiers selects the validator's spent-nullifier store.
type Nullifiers struct {
	Backend     string `mapstructure:"backend"` // memory | file | redis | postgres
	Path        string `mapstructure:"path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	DatabaseURL string `mapstructure:"database_url"`
}

// RateLimit bounds requests per client on the validator endpoint: at most Max
// in any Window. Max <= 0 disables it.
type RateLimit struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// Range selects the range proof backend.
type Range struct {
	Backend string `mapstructure:"backend"` // sigma | groth16
	KeyDir  string `mapstructure:"key_dir"`
}

// Config is shared by both daemons; each reads the sections it needs.
type Config struct {
	ParamsPath string        `mapstructure:"params_path"`
	KeyPath    string        `mapstructure:"key_path"`
	Listen     string        `mapstructure:"listen"`
	Validators []string      `mapstructure:"validators"`
	Timeout    time.Duration `mapstructure:"timeout"`

	Log        Log        `mapstructure:"log"`
	Storage    Storage    `mapstructure:"storage"`
	Nullifiers Nullifiers `mapstructure:"nullifiers"`
	RateLimit  RateLimit  `mapstructure:"rate_limit"`
	Range      Range      `mapstructure:"range"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("params_path", "params.cbor")
	v.SetDefault("key_path", "validator.key")
	v.SetDefault("listen", "127.0.0.1:7000")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.data_dir", "wallets")
	v.SetDefault("nullifiers.backend", "file")
	v.SetDefault("nullifiers.path", "nullifiers.json")
	v.SetDefault("rate_limit.max", 600)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("range.backend", "sigma")
	v.SetDefault("range.key_dir", "keys")
}

// Default returns the built-in configuration.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads path (YAML, JSON or TOML by extension) if given, then applies
// UTT_ environment overrides, e.g. UTT_LOG_LEVEL or UTT_STORAGE_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("UTT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if len(c.Validators) == 1 && strings.Contains(c.Validators[0], ",") {
		c.Validators = strings.Split(c.Validators[0], ",")
	}
	return &c, nil
}

// Validate checks the fields every daemon depends on.
func (c *Config) Validate() error {
	if c.ParamsPath == "" {
		return errors.New("params_path is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			return errors.New("storage.data_dir is required for file storage")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis storage")
		}
	default:
		return errors.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Nullifiers.Backend {
	case "memory":
	case "file":
		if c.Nullifiers.Path == "" {
			return errors.New("nullifiers.path is required for file store")
		}
	case "redis":
		if c.Nullifiers.RedisAddr == "" {
			return errors.New("nullifiers.redis_addr is required for redis store")
		}
	case "postgres":
		if c.Nullifiers.DatabaseURL == "" {
			return errors.New("nullifiers.database_url is required for postgres store")
		}
	default:
		return errors.Errorf("unknown nullifier backend %q", c.Nullifiers.Backend)
	}
	switch c.Range.Backend {
	case "sigma", "groth16":
	default:
		return errors.Errorf("unknown range backend %q", c.Range.Backend)
	}
	return nil
}
