package bot

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/lrstanley/girc"
)

// Settings holds process-level bot options shared by every connection a
// Manager runs.
type Settings struct {
	Nick        string  `env:"BOT_NAME" envDefault:"ircbot"`
	User        string  `env:"BOT_USER" envDefault:""`
	RealName    string  `env:"BOT_REALNAME" envDefault:"IRC Bot"`
	AutoConnect bool    `env:"AUTO_CONNECT" envDefault:"false"`
	QuitMessage string  `env:"QUIT_MESSAGE" envDefault:"Shutting down"`
	RateBurst   float64 `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RateRefill  float64 `env:"RATE_LIMIT_REFILL" envDefault:"2.0"`
	Debug       bool    `env:"DEBUG" envDefault:"false"`

	// Logger receives all engine output; nil means the standard logger.
	Logger *log.Logger `env:"-"`
}

// SettingsFromEnv builds Settings from the process environment.
func SettingsFromEnv() (Settings, error) {
	s := Settings{}
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parsing settings from environment: %w", err)
	}
	return s, nil
}

// DefaultSettings returns the compiled-in defaults without consulting the
// environment.
func DefaultSettings() Settings {
	return Settings{
		Nick:        "ircbot",
		RealName:    "IRC Bot",
		QuitMessage: "Shutting down",
		RateBurst:   DefaultBurst,
		RateRefill:  DefaultRefillRate,
	}
}

// username returns the USER-command ident, falling back to the nick.
func (s Settings) username() string {
	if s.User != "" {
		return s.User
	}
	return s.Nick
}

func (s Settings) baseLogger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// ServerConfig describes one IRC server a connection maintains. Build it
// with NewServerConfig so channels and keys are normalized.
type ServerConfig struct {
	Name             string
	Host             string
	Port             int
	Channels         []string
	Keys             []string
	TLS              bool
	AllowInsecureTLS bool

	// Encoding names the wire charset ("latin-1"); empty means UTF-8.
	Encoding string

	// Timing knobs; zero values fall back to the defaults.
	DialTimeout      time.Duration
	AuthTimeout      time.Duration
	KeepaliveIdle    time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// NewServerConfig validates and normalizes a server description: channels
// gain a "#" prefix, keys are padded with empty strings to the channel
// count, and the name defaults to host:port.
func NewServerConfig(name, host string, port int, channels, keys []string, useTLS, allowInsecureTLS bool) (ServerConfig, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return ServerConfig{}, fmt.Errorf("server host must not be empty")
	}
	if port <= 0 || port > 65535 {
		return ServerConfig{}, fmt.Errorf("server port %d out of range", port)
	}

	normalized := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = NormalizeChannel(ch)
		if ch == "" {
			continue
		}
		if !girc.IsValidChannel(ch) {
			return ServerConfig{}, fmt.Errorf("invalid channel name %q", ch)
		}
		normalized = append(normalized, ch)
	}
	if len(normalized) == 0 {
		return ServerConfig{}, fmt.Errorf("server %s:%d has no channels", host, port)
	}

	padded := make([]string, len(normalized))
	copy(padded, keys)

	if name == "" {
		name = fmt.Sprintf("%s:%d", host, port)
	}

	return ServerConfig{
		Name:             name,
		Host:             host,
		Port:             port,
		Channels:         normalized,
		Keys:             padded,
		TLS:              useTLS,
		AllowInsecureTLS: allowInsecureTLS,
	}, nil
}

// Addr returns the host:port dial target.
func (sc ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// NormalizeChannel trims a channel name and ensures the "#" prefix.
func NormalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return ""
	}
	if strings.HasPrefix(channel, "#") || strings.HasPrefix(channel, "&") {
		return channel
	}
	return "#" + strings.TrimLeft(channel, "#&")
}
