package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const envPrefix = "copier"

// Config содержит конфигурацию приложения
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Presence PresenceConfig `mapstructure:"presence"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LedgerConfig - директории ledger файлов EA и трансформированных снимков slave
type LedgerConfig struct {
	Dir       string `mapstructure:"dir"`
	RelayDir  string `mapstructure:"relay_dir"`
	Extension string `mapstructure:"extension"`
	Watch     bool   `mapstructure:"watch"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PresenceConfig struct {
	ActivityTimeout   time.Duration `mapstructure:"activity_timeout"`
	PendingTimeout    time.Duration `mapstructure:"pending_timeout"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type AuthConfig struct {
	JWTSecret string         `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration  `mapstructure:"token_ttl"`
	Tenants   []TenantConfig `mapstructure:"tenants"`
}

// TenantConfig - тенант и его лицензионный ключ (открытый или bcrypt хэш)
type TenantConfig struct {
	ID      string `mapstructure:"id"`
	Key     string `mapstructure:"key"`
	KeyHash string `mapstructure:"key_hash"`
}

type TelegramConfig struct {
	Token           string  `mapstructure:"token"`
	ChatIDs         []int64 `mapstructure:"chat_ids"`
	AlertsPerMinute int     `mapstructure:"alerts_per_minute"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load читает конфигурацию из файла (если задан) и переменных окружения COPIER_*
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("ledger.dir", "data/ledgers")
	v.SetDefault("ledger.relay_dir", "data/relay")
	v.SetDefault("ledger.extension", ".txt")
	v.SetDefault("ledger.watch", true)

	v.SetDefault("database.path", "data/copier.db")

	v.SetDefault("presence.activity_timeout", "5s")
	v.SetDefault("presence.pending_timeout", "1h")
	v.SetDefault("presence.tick_interval", "1s")
	v.SetDefault("presence.heartbeat_interval", "5s")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_ids", []int64{})
	v.SetDefault("telegram.alerts_per_minute", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/copier.log")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	var errs []error

	if c.Ledger.Dir == "" {
		errs = append(errs, errors.New("ledger.dir is required"))
	}
	if c.Ledger.RelayDir == "" {
		errs = append(errs, errors.New("ledger.relay_dir is required"))
	}
	if c.Ledger.Dir != "" && filepath.Clean(c.Ledger.Dir) == filepath.Clean(c.Ledger.RelayDir) {
		errs = append(errs, errors.New("ledger.relay_dir must differ from ledger.dir"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	seen := make(map[string]bool, len(c.Auth.Tenants))
	for i, t := range c.Auth.Tenants {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Errorf("auth.tenants[%d].id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Errorf("auth.tenants[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true

		if t.Key == "" && t.KeyHash == "" {
			errs = append(errs, fmt.Errorf("auth.tenants[%d]: key or key_hash is required", i))
		}
	}

	for name, d := range map[string]time.Duration{
		"presence.activity_timeout":   c.Presence.ActivityTimeout,
		"presence.pending_timeout":    c.Presence.PendingTimeout,
		"presence.tick_interval":      c.Presence.TickInterval,
		"presence.heartbeat_interval": c.Presence.HeartbeatInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Telegram.Token != "" && len(c.Telegram.ChatIDs) == 0 {
		errs = append(errs, errors.New("telegram.chat_ids is required when telegram.token is set"))
	}

	return errors.Join(errs...)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}
