package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TENDRIL_SCHEDULER_DELAY.
const EnvPrefix = "TENDRIL"

// Config holds the effective configuration of a tendril process.
type Config struct {
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Outputs   OutputsConfig     `mapstructure:"outputs"`
	Transfer  TransferConfig    `mapstructure:"transfer"`
	Redis     RedisConfig       `mapstructure:"redis"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Log       LogConfig         `mapstructure:"log"`
	Routes    map[string]string `mapstructure:"routes"`
}

// SchedulerConfig tunes deferred commits.
type SchedulerConfig struct {
	Delay         time.Duration `mapstructure:"delay"`
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// OutputsConfig tunes the output registry.
type OutputsConfig struct {
	Capacity int `mapstructure:"capacity"`
	// EncryptionKey is a base64 AES-256 key. When set, payloads are encrypted at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
	// MaskKeys are patterns of payload keys whose values are masked before storage.
	MaskKeys []string `mapstructure:"mask_keys"`
}

// TransferConfig tunes artifact delivery.
type TransferConfig struct {
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// RedisConfig selects the shared backend. An empty Addr keeps everything in memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// HTTPConfig configures the HTTP bridge.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.delay", 5*time.Second)
	v.SetDefault("scheduler.commit_timeout", 30*time.Second)
	v.SetDefault("outputs.capacity", 20)
	v.SetDefault("outputs.encryption_key", "")
	v.SetDefault("outputs.mask_keys", []string{})
	v.SetDefault("transfer.ready_timeout", 3*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "tendril:")
	v.SetDefault("http.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration from defaults, an optional file and the
// environment, in increasing precedence. With an empty path it looks for
// $TENDRIL_CONFIG, then tendril.{toml,yaml} in the working directory and in
// ~/.config/tendril; a missing file is not an error there.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tendril")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "tendril"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Scheduler.Delay <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.delay must be positive, got %s", c.Scheduler.Delay))
	}
	if c.Scheduler.CommitTimeout < 0 {
		errs = append(errs, fmt.Errorf("scheduler.commit_timeout must not be negative, got %s", c.Scheduler.CommitTimeout))
	}
	if c.Outputs.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("outputs.capacity must be positive, got %d", c.Outputs.Capacity))
	}
	if c.Outputs.EncryptionKey != "" {
		if _, err := c.Outputs.Key(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Transfer.ReadyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transfer.ready_timeout must be positive, got %s", c.Transfer.ReadyTimeout))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port out of range: %d", c.HTTP.Port))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Key decodes the payload encryption key. It returns nil when none is set.
func (o OutputsConfig) Key() ([]byte, error) {
	if o.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(o.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("outputs.encryption_key must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("outputs.encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// fileView is the on-disk shape: durations as strings viper parses back.
type fileView struct {
	Scheduler struct {
		Delay         string `toml:"delay"`
		CommitTimeout string `toml:"commit_timeout"`
	} `toml:"scheduler"`
	Outputs struct {
		Capacity      int      `toml:"capacity"`
		EncryptionKey string   `toml:"encryption_key,omitempty"`
		MaskKeys      []string `toml:"mask_keys"`
	} `toml:"outputs"`
	Transfer struct {
		ReadyTimeout string `toml:"ready_timeout"`
	} `toml:"transfer"`
	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password,omitempty"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
	} `toml:"redis"`
	HTTP struct {
		Port int `toml:"port"`
	} `toml:"http"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Routes map[string]string `toml:"routes,omitempty"`
}

// Encode writes c as TOML that Load reads back unchanged.
func Encode(w io.Writer, c Config) error {
	var f fileView
	f.Scheduler.Delay = c.Scheduler.Delay.String()
	f.Scheduler.CommitTimeout = c.Scheduler.CommitTimeout.String()
	f.Outputs.Capacity = c.Outputs.Capacity
	f.Outputs.EncryptionKey = c.Outputs.EncryptionKey
	f.Outputs.MaskKeys = c.Outputs.MaskKeys
	f.Transfer.ReadyTimeout = c.Transfer.ReadyTimeout.String()
	f.Redis.Addr = c.Redis.Addr
	f.Redis.Password = c.Redis.Password
	f.Redis.DB = c.Redis.DB
	f.Redis.Prefix = c.Redis.Prefix
	f.HTTP.Port = c.HTTP.Port
	f.Log.Level = c.Log.Level
	f.Log.Format = c.Log.Format
	f.Routes = c.Routes

	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
