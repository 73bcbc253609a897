package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer" mapstructure:"send_buffer"`
	StrictEnums    bool     `yaml:"strict_enums" mapstructure:"strict_enums"`
	LogLevel       string   `yaml:"log_level" mapstructure:"log_level"`

	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

type JournalConfig struct {
	// Path of the sqlite journal. Empty disables it.
	Path string `yaml:"path" mapstructure:"path"`
}

// HistoryConfig controls the automerge revision history. Every mutation commits a full copy of the board, so the
// document grows with tasks times mutations for the life of the process and is only released at shutdown. Leave it
// off for long-running servers with large boards.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DumpDir receives the history document at shutdown. Defaults to the OS temp dir.
	DumpDir   string `yaml:"dump_dir" mapstructure:"dump_dir"`
	RenderSVG bool   `yaml:"render_svg" mapstructure:"render_svg"`
}

type RedisConfig struct {
	// Addr of the redis server. Empty disables the snapshot mirror.
	Addr   string `yaml:"addr" mapstructure:"addr"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

func Default() *Config {
	return &Config{
		Addr:           ":5000",
		AllowedOrigins: []string{"*"},
		SendBuffer:     64,
		StrictEnums:    true,
		LogLevel:       "info",
		Journal:        JournalConfig{Path: ""},
		History:        HistoryConfig{Enabled: false},
		Redis:          RedisConfig{Prefix: "kanban:"},
	}
}

// EnvPrefix prefixes environment overrides: KANBAN_SEND_BUFFER, KANBAN_REDIS_ADDR, KANBAN_JOURNAL_PATH and so on.
// PORT is also honoured and replaces addr with ":<port>".
const EnvPrefix = "KANBAN"

// Load layers the optional YAML file at path over the defaults, then environment overrides over both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("port", "PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind PORT: %w", err)
	}
	if err := v.BindEnv("journal.path", EnvPrefix+"_JOURNAL_PATH", EnvPrefix+"_JOURNAL"); err != nil {
		return nil, fmt.Errorf("failed to bind journal path: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if port := v.GetString("port"); port != "" {
		cfg.Addr = ":" + port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("send_buffer", d.SendBuffer)
	v.SetDefault("strict_enums", d.StrictEnums)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dump_dir", d.History.DumpDir)
	v.SetDefault("history.render_svg", d.History.RenderSVG)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("port", "")
}

// YAML renders the effective configuration in the file format Load reads.
func (c *Config) YAML() ([]byte, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return raw, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("invalid config: addr must be set")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("invalid config: send_buffer must be positive, got %d", c.SendBuffer)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid config: unknown log level %q", c.LogLevel)
}
