package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultStorageRoot     = "data/packs"
	DefaultMaxStickers     = 120
	DefaultMaxConcurrent   = 4
	DefaultPipelineTimeout = "10m"
	DefaultLanguage        = "en_US"
	DefaultZipComment      = "packed by stickerpress"
	DefaultHealthAddr      = ":8090"
	DefaultJanitorSpec     = "@every 1h"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "stickerpress"
	DefaultPGSSLMode       = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Telegram TelegramConfig `toml:"telegram"`
	Storage  StorageConfig  `toml:"storage"`
	Limits   LimitsConfig   `toml:"limits"`
	Zip      ZipConfig      `toml:"zip"`
	I18n     I18nConfig     `toml:"i18n"`
	Postgres PostgresConfig `toml:"postgres"`
	Health   HealthConfig   `toml:"health"`
	Janitor  JanitorConfig  `toml:"janitor"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
	// AdminUsername gates the /purge command. Empty disables admin commands.
	AdminUsername string `toml:"admin_username"`
	// StickerSources are URL prefixes accepted as sticker-set links.
	StickerSources []string `toml:"sticker_sources"`
}

type StorageConfig struct {
	// Root holds one working directory per conversation during a finish attempt.
	Root string `toml:"root" validate:"required"`
}

type LimitsConfig struct {
	MaxStickers     int    `toml:"max_stickers" validate:"gt=0"`
	MaxConcurrent   int    `toml:"max_concurrent" validate:"gt=0"`
	PipelineTimeout string `toml:"pipeline_timeout"`
}

type ZipConfig struct {
	Comment string `toml:"comment"`
}

type I18nConfig struct {
	DefaultLanguage string `toml:"default_language"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type HealthConfig struct {
	Addr string `toml:"addr"`
}

type JanitorConfig struct {
	// Spec is a cron expression; empty disables the sweep.
	Spec string `toml:"spec"`
}

// Timeout parses the configured finish-attempt bound, falling back to the
// default when unset.
func (c LimitsConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.PipelineTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultPipelineTimeout)
	}
	return d
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telegram: TelegramConfig{
			StickerSources: []string{"https://t.me/addstickers/"},
		},
		Storage: StorageConfig{
			Root: DefaultStorageRoot,
		},
		Limits: LimitsConfig{
			MaxStickers:     DefaultMaxStickers,
			MaxConcurrent:   DefaultMaxConcurrent,
			PipelineTimeout: DefaultPipelineTimeout,
		},
		Zip: ZipConfig{
			Comment: DefaultZipComment,
		},
		I18n: I18nConfig{
			DefaultLanguage: DefaultLanguage,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Health: HealthConfig{
			Addr: DefaultHealthAddr,
		},
		Janitor: JanitorConfig{
			Spec: DefaultJanitorSpec,
		},
	}
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
