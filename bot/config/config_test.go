package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err, "Should load with no source")

	assert.Equal(t, "ircbot", cfg.Bot.Nick, "Should default the nick")
	assert.Equal(t, "Shutting down", cfg.Bot.QuitMessage, "Should default the quit message")
	assert.Equal(t, "127.0.0.1:8080", cfg.AdminAddr(), "Should default the admin address")
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr(), "Should default the metrics address")
	assert.Equal(t, time.Minute, cfg.StatsFlushInterval(), "Should default the flush interval")
	assert.Equal(t, "!", cfg.Stats.IgnorePrefix, "Should default the command prefix")

	if assert.Len(t, cfg.Servers, 1, "Should fall back to one default server") {
		assert.Equal(t, defaultServerHost, cfg.Servers[0].Host, "Should point at the default network")
		assert.Equal(t, []string{defaultServerChannel}, cfg.Servers[0].Channels, "Should use the default channel")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
bot:
  nick: yamlbot
  user: yb
  auto_connect: true
  quit_message: Later
rate_limit:
  burst: 10
  refill: 3.5
servers:
  - name: main
    host: irc.example.org
    port: 6697
    channels: ["#go", "ops"]
    keys: ["sekrit"]
    tls: true
admin:
  enabled: true
  port: 9999
  bearer_tokens: ["tok1", "tok2"]
stats:
  enabled: true
  dsn: words.db
  flush_seconds: 5
`)

	cfg, err := Load(path)
	assert.NoError(t, err, "Should load the YAML file")

	assert.Equal(t, "yamlbot", cfg.Bot.Nick, "Should read the nick")
	assert.True(t, cfg.Bot.AutoConnect, "Should read the auto-connect flag")
	assert.Equal(t, 10.0, cfg.RateLimit.Burst, "Should read the burst")
	assert.Equal(t, 3.5, cfg.RateLimit.Refill, "Should read the refill rate")
	assert.True(t, cfg.Admin.Enabled, "Should read the admin flag")
	assert.Equal(t, "127.0.0.1:9999", cfg.AdminAddr(), "Should combine host default and port override")
	assert.Equal(t, []string{"tok1", "tok2"}, cfg.Admin.BearerTokens, "Should read the tokens")
	assert.Equal(t, 5*time.Second, cfg.StatsFlushInterval(), "Should read the flush interval")

	settings := cfg.Settings()
	assert.Equal(t, "yamlbot", settings.Nick, "Should map the nick into settings")
	assert.Equal(t, "yb", settings.User, "Should map the user into settings")
	assert.Equal(t, "Later", settings.QuitMessage, "Should map the quit message")
	assert.Equal(t, 10.0, settings.RateBurst, "Should map the burst")

	serverConfigs, err := cfg.ServerConfigs()
	assert.NoError(t, err, "Should convert the server entries")
	if assert.Len(t, serverConfigs, 1, "Should convert one server") {
		sc := serverConfigs[0]
		assert.Equal(t, "main", sc.Name, "Should keep the server name")
		assert.Equal(t, 6697, sc.Port, "Should keep the port")
		assert.True(t, sc.TLS, "Should keep the TLS flag")
		assert.Equal(t, []string{"#go", "#ops"}, sc.Channels, "Should normalize channel names")
		assert.Equal(t, []string{"sekrit", ""}, sc.Keys, "Should pad the keys")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[bot]
nick = "tomlbot"

[[servers]]
name = "main"
host = "irc.example.org"
channels = ["#go"]
`)

	cfg, err := Load(path)
	assert.NoError(t, err, "Should load the TOML file")
	assert.Equal(t, "tomlbot", cfg.Bot.Nick, "Should read the nick from TOML")

	serverConfigs, err := cfg.ServerConfigs()
	assert.NoError(t, err, "Should convert the server entries")
	if assert.Len(t, serverConfigs, 1, "Should convert one server") {
		assert.Equal(t, 6667, serverConfigs[0].Port, "Should default a missing port")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "bot": {"nick": "jsonbot"},
  "servers": [{"host": "irc.example.org", "channels": ["#go"]}]
}`)

	cfg, err := Load(path)
	assert.NoError(t, err, "Should load the JSON file")
	assert.Equal(t, "jsonbot", cfg.Bot.Nick, "Should read the nick from JSON")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "Should fail on a missing file")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "bad.yaml", `
admin:
  port: 99999
servers:
  - host: irc.example.org
`)
	_, err := Load(path)
	assert.Error(t, err, "Should reject an out-of-range admin port")

	path = writeConfig(t, "nohost.yaml", `
servers:
  - name: broken
    channels: ["#go"]
`)
	_, err = Load(path)
	assert.Error(t, err, "Should reject a server without a host")
}

func TestSSHValidation(t *testing.T) {
	path := writeConfig(t, "ssh.yaml", `
servers:
  - host: irc.example.org
    channels: ["#go"]
    ssh:
      host: jump.example.org
      user: deploy
`)
	_, err := Load(path)
	assert.Error(t, err, "Should reject a tunnel with no credentials")

	path = writeConfig(t, "sshok.yaml", `
servers:
  - host: irc.example.org
    channels: ["#go"]
    ssh:
      host: jump.example.org
      user: deploy
      password: hunter2
`)
	cfg, err := Load(path)
	assert.NoError(t, err, "Should accept a tunnel with a password")
	if assert.NotNil(t, cfg.Servers[0].SSH, "Should keep the tunnel settings") {
		assert.Equal(t, "deploy", cfg.Servers[0].SSH.User, "Should read the tunnel user")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_NAME", "envbot")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("ADMIN_TOKENS", "tok-a, tok-b")
	t.Setenv("STATS_ENABLED", "yes")
	t.Setenv("ADMIN_PORT", "junk")

	path := writeConfig(t, "config.yaml", `
bot:
  nick: filebot
servers:
  - host: irc.example.org
    channels: ["#go"]
`)

	cfg, err := Load(path)
	assert.NoError(t, err, "Should load with environment overrides")

	assert.Equal(t, "envbot", cfg.Bot.Nick, "Should let the environment win over the file")
	assert.Equal(t, 7.0, cfg.RateLimit.Burst, "Should parse a numeric override")
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.Admin.BearerTokens, "Should split a list override")
	assert.True(t, cfg.Stats.Enabled, "Should parse a yes/no override")
	assert.Equal(t, 8080, cfg.Admin.Port, "Should ignore an unparseable numeric override")
}

func TestServersFromEnv(t *testing.T) {
	t.Setenv("SERVER1_HOST", "irc1.example.org")
	t.Setenv("SERVER1_CHANNELS", `"#a", 'b'`)
	t.Setenv("SERVER1_KEYS", "k1")
	t.Setenv("SERVER1_TLS", "yes")
	t.Setenv("SERVER3_HOST", "irc3.example.org")
	t.Setenv("SERVER3_PORT", "7000")

	cfg, err := Load("")
	assert.NoError(t, err, "Should load servers from the environment")

	if !assert.Len(t, cfg.Servers, 2, "Should find both sparse entries") {
		return
	}
	first, second := cfg.Servers[0], cfg.Servers[1]

	assert.Equal(t, "SERVER1", first.Name, "Should default the name from the index")
	assert.Equal(t, "irc1.example.org", first.Host, "Should read the first host")
	assert.Equal(t, []string{"#a", "b"}, first.Channels, "Should strip quotes from channel items")
	assert.Equal(t, []string{"k1"}, first.Keys, "Should read the keys")
	assert.True(t, first.TLS, "Should parse the TLS flag")

	assert.Equal(t, "SERVER3", second.Name, "Should keep numeric order across gaps")
	assert.Equal(t, 7000, second.Port, "Should read the port")
	assert.Equal(t, []string{defaultServerChannel}, second.Channels, "Should default missing channels")
}

func TestReload(t *testing.T) {
	path := writeConfig(t, "config.yaml", "bot:\n  nick: before\nservers:\n  - host: irc.example.org\n    channels: [\"#go\"]\n")

	cfg, err := Load(path)
	assert.NoError(t, err, "Should load the initial file")
	assert.Equal(t, "before", cfg.Bot.Nick, "Should read the initial nick")

	err = os.WriteFile(path, []byte("bot:\n  nick: after\nservers:\n  - host: irc.example.org\n    channels: [\"#go\"]\n"), 0644)
	assert.NoError(t, err, "Should rewrite the file")

	assert.NoError(t, cfg.Reload(""), "Should reload from the original source")
	assert.Equal(t, "after", cfg.Bot.Nick, "Should pick up the new nick")
}

func TestLoadEnvFiles(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "app", "cmd")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	parentEnv := filepath.Join(root, ".env")
	childEnv := filepath.Join(nested, ".env")
	os.WriteFile(parentEnv, []byte("ENVFILE_PROBE=parent\nENVFILE_PARENT_ONLY=yes\n"), 0644)
	os.WriteFile(childEnv, []byte("ENVFILE_PROBE=child\n"), 0644)
	t.Cleanup(func() {
		os.Unsetenv("ENVFILE_PROBE")
		os.Unsetenv("ENVFILE_PARENT_ONLY")
	})

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWD) })
	loaded := LoadEnvFiles()

	assert.Contains(t, loaded, childEnv, "Should find the nearest .env")
	assert.Contains(t, loaded, parentEnv, "Should walk up to parent .env files")
	assert.Less(t, indexOf(loaded, childEnv), indexOf(loaded, parentEnv), "Should order nearest first")

	assert.Equal(t, "child", os.Getenv("ENVFILE_PROBE"), "Should let the nearest file win")
	assert.Equal(t, "yes", os.Getenv("ENVFILE_PARENT_ONLY"), "Should still load parent-only values")
}

func indexOf(list []string, want string) int {
	for i, v := range list {
		if v == want {
			return i
		}
	}
	return -1
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, parseList("a, b ,c"), "Should trim whitespace")
	assert.Equal(t, []string{"#x", "#y"}, parseList(`"#x", '#y'`), "Should strip surrounding quotes")
	assert.Equal(t, []string{"a"}, parseList("a,,"), "Should drop empty items")
	assert.Nil(t, parseList("   "), "Should return nil for blank input")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "y", "on"} {
		assert.True(t, parseBool(v), "Should treat %q as true", v)
	}
	for _, v := range []string{"false", "0", "no", "", "junk"} {
		assert.False(t, parseBool(v), "Should treat %q as false", v)
	}
}
