// Package config loads bot configuration from YAML, TOML, or JSON files
// (or URLs), layers environment variable overrides on top, and discovers
// additional servers declared through SERVER<n>_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/presbrey/ircbot/bot"
)

// Fallback server used when no file and no environment describe any
// server at all, so a bare binary still connects somewhere visible.
const (
	defaultServerName    = "DEFAULT"
	defaultServerHost    = "irc.libera.chat"
	defaultServerPort    = 6667
	defaultServerChannel = "#test"
)

// Config represents the complete bot configuration.
type Config struct {
	// Bot identity and behavior
	Bot struct {
		Nick        string `yaml:"nick" toml:"nick" json:"nick" env:"BOT_NAME"`
		User        string `yaml:"user" toml:"user" json:"user" env:"BOT_USER"`
		RealName    string `yaml:"realname" toml:"realname" json:"realname" env:"BOT_REALNAME"`
		AutoConnect bool   `yaml:"auto_connect" toml:"auto_connect" json:"auto_connect" env:"AUTO_CONNECT"`
		QuitMessage string `yaml:"quit_message" toml:"quit_message" json:"quit_message" env:"QUIT_MESSAGE"`
		Debug       bool   `yaml:"debug" toml:"debug" json:"debug" env:"DEBUG"`
	} `yaml:"bot" toml:"bot" json:"bot"`

	// Outbound flood protection
	RateLimit struct {
		Burst  float64 `yaml:"burst" toml:"burst" json:"burst" env:"RATE_LIMIT_BURST" validate:"omitempty,gt=0"`
		Refill float64 `yaml:"refill" toml:"refill" json:"refill" env:"RATE_LIMIT_REFILL" validate:"omitempty,gt=0"`
	} `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`

	// IRC servers to maintain connections to
	Servers []Server `yaml:"servers" toml:"servers" json:"servers" validate:"dive"`

	// Admin REST API settings
	Admin struct {
		Enabled        bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"ADMIN_ENABLED"`
		Host           string   `yaml:"host" toml:"host" json:"host" env:"ADMIN_HOST"`
		Port           int      `yaml:"port" toml:"port" json:"port" env:"ADMIN_PORT" validate:"omitempty,min=1,max=65535"`
		BearerTokens   []string `yaml:"bearer_tokens" toml:"bearer_tokens" json:"bearer_tokens" env:"ADMIN_TOKENS"`
		MetricsPort    int      `yaml:"metrics_port" toml:"metrics_port" json:"metrics_port" env:"METRICS_PORT" validate:"omitempty,min=1,max=65535"`
		AnnounceServer string   `yaml:"announce_server" toml:"announce_server" json:"announce_server" env:"ADMIN_ANNOUNCE_SERVER"`
		AnnounceTarget string   `yaml:"announce_target" toml:"announce_target" json:"announce_target" env:"ADMIN_ANNOUNCE_TARGET"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	// Word statistics settings
	Stats struct {
		Enabled      bool     `yaml:"enabled" toml:"enabled" json:"enabled" env:"STATS_ENABLED"`
		DSN          string   `yaml:"dsn" toml:"dsn" json:"dsn" env:"STATS_DSN"`
		FlushSeconds int      `yaml:"flush_seconds" toml:"flush_seconds" json:"flush_seconds" env:"STATS_FLUSH_SECONDS" validate:"omitempty,min=1"`
		IgnorePrefix string   `yaml:"ignore_prefix" toml:"ignore_prefix" json:"ignore_prefix" env:"STATS_IGNORE_PREFIX"`
		TrackedWords []string `yaml:"tracked_words" toml:"tracked_words" json:"tracked_words" env:"STATS_TRACKED_WORDS"`
	} `yaml:"stats" toml:"stats" json:"stats"`

	// Configuration source for reloading
	Source string
}

// Server describes one IRC server entry in the configuration.
type Server struct {
	Name             string   `yaml:"name" toml:"name" json:"name"`
	Host             string   `yaml:"host" toml:"host" json:"host" validate:"required"`
	Port             int      `yaml:"port" toml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Channels         []string `yaml:"channels" toml:"channels" json:"channels"`
	Keys             []string `yaml:"keys" toml:"keys" json:"keys"`
	TLS              bool     `yaml:"tls" toml:"tls" json:"tls"`
	AllowInsecureTLS bool     `yaml:"allow_insecure_tls" toml:"allow_insecure_tls" json:"allow_insecure_tls"`
	Encoding         string   `yaml:"encoding" toml:"encoding" json:"encoding"`
	SSH              *SSH     `yaml:"ssh" toml:"ssh" json:"ssh"`
}

// SSH describes an optional jump host the server is dialed through.
type SSH struct {
	Host           string `yaml:"host" toml:"host" json:"host" validate:"required"`
	Port           int    `yaml:"port" toml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	User           string `yaml:"user" toml:"user" json:"user" validate:"required"`
	Password       string `yaml:"password" toml:"password" json:"password"`
	PrivateKey     string `yaml:"private_key" toml:"private_key" json:"private_key"`
	PrivateKeyPath string `yaml:"private_key_path" toml:"private_key_path" json:"private_key_path"`
}

// Load builds the configuration: compiled-in defaults, then the file or
// URL given by source (may be empty), then environment variable
// overrides, then servers declared through SERVER<n>_* variables. When
// nothing defines a server, a default Libera.Chat entry is used.
func Load(source string) (*Config, error) {
	cfg := &Config{
		Source: source,
	}

	// Set defaults
	cfg.Bot.Nick = "ircbot"
	cfg.Bot.RealName = "IRC Bot"
	cfg.Bot.QuitMessage = "Shutting down"
	cfg.RateLimit.Burst = bot.DefaultBurst
	cfg.RateLimit.Refill = bot.DefaultRefillRate
	cfg.Admin.Host = "127.0.0.1"
	cfg.Admin.Port = 8080
	cfg.Admin.MetricsPort = 9090
	cfg.Stats.DSN = "ircbot.db"
	cfg.Stats.FlushSeconds = 60
	cfg.Stats.IgnorePrefix = "!"

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Append servers declared purely through the environment
	cfg.Servers = append(cfg.Servers, serversFromEnv()...)

	if len(cfg.Servers) == 0 {
		cfg.Servers = append(cfg.Servers, Server{
			Name:     defaultServerName,
			Host:     defaultServerHost,
			Port:     defaultServerPort,
			Channels: []string{defaultServerChannel},
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload replaces the configuration from the original source or a new
// one.
func (c *Config) Reload(newSource string) error {
	source := c.Source
	if newSource != "" {
		source = newSource
	}

	newCfg, err := Load(source)
	if err != nil {
		return err
	}

	*c = *newCfg
	return nil
}

// loadFromSource loads configuration from a file or URL, picking the
// format by extension (YAML when unrecognized).
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := http.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	switch {
	case strings.HasSuffix(source, ".yaml") || strings.HasSuffix(source, ".yml"):
		err = yaml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(source, ".json"):
		err = json.Unmarshal(data, c)
	default:
		// Default to YAML
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

// Validate checks the configuration's struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.SSH != nil && s.SSH.Password == "" && s.SSH.PrivateKey == "" && s.SSH.PrivateKeyPath == "" {
			return fmt.Errorf("server %s: ssh tunnel needs a password or private key", s.displayName(i))
		}
	}
	return nil
}

// Settings maps the configuration onto engine settings.
func (c *Config) Settings() bot.Settings {
	s := bot.DefaultSettings()
	s.Nick = c.Bot.Nick
	s.User = c.Bot.User
	s.RealName = c.Bot.RealName
	s.AutoConnect = c.Bot.AutoConnect
	s.Debug = c.Bot.Debug
	if c.Bot.QuitMessage != "" {
		s.QuitMessage = c.Bot.QuitMessage
	}
	if c.RateLimit.Burst > 0 {
		s.RateBurst = c.RateLimit.Burst
	}
	if c.RateLimit.Refill > 0 {
		s.RateRefill = c.RateLimit.Refill
	}
	return s
}

// ServerConfigs converts every server entry into a validated engine
// configuration. Entries without channels get the default channel.
func (c *Config) ServerConfigs() ([]bot.ServerConfig, error) {
	configs := make([]bot.ServerConfig, 0, len(c.Servers))
	for i, s := range c.Servers {
		cfg, err := s.serverConfig(i)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s Server) serverConfig(index int) (bot.ServerConfig, error) {
	port := s.Port
	if port == 0 {
		port = defaultServerPort
	}
	channels := s.Channels
	if len(channels) == 0 {
		channels = []string{defaultServerChannel}
	}

	cfg, err := bot.NewServerConfig(s.Name, s.Host, port, channels, s.Keys, s.TLS, s.AllowInsecureTLS)
	if err != nil {
		return bot.ServerConfig{}, fmt.Errorf("server %s: %w", s.displayName(index), err)
	}
	cfg.Encoding = s.Encoding
	return cfg, nil
}

func (s Server) displayName(index int) string {
	if s.Name != "" {
		return s.Name
	}
	if s.Host != "" {
		return s.Host
	}
	return fmt.Sprintf("#%d", index+1)
}

// AdminAddr returns the formatted listen address for the admin API.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// MetricsAddr returns the formatted listen address for the metrics
// endpoint.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.MetricsPort)
}

// StatsFlushInterval returns the flush cadence for the word tracker.
func (c *Config) StatsFlushInterval() time.Duration {
	return time.Duration(c.Stats.FlushSeconds) * time.Second
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		envTag := field.Tag.Get("env")

		if envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable.
func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := parseInt(envValue); err == nil {
			field.SetInt(v)
		}
	case reflect.Float32, reflect.Float64:
		if v, err := parseFloat(envValue); err == nil {
			field.SetFloat(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := parseList(envValue)
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(v)
			}
			field.Set(slice)
		}
	}
}

func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%g", &v)
	return v, err
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}
