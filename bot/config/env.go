package config

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var serverHostPattern = regexp.MustCompile(`^SERVER(\d+)_HOST$`)

// LoadEnvFiles loads every .env file found in the working directory and
// its parents, nearest first so closer files win. Returns the paths that
// were loaded.
func LoadEnvFiles() []string {
	var envFiles []string

	dir, err := os.Getwd()
	if err != nil {
		return nil
	}

	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			envFiles = append(envFiles, envPath)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if len(envFiles) > 0 {
		// godotenv never overrides variables that are already set, so
		// the nearest file takes precedence.
		godotenv.Load(envFiles...)
	}
	return envFiles
}

// serversFromEnv collects servers declared as SERVER<n>_HOST plus the
// optional SERVER<n>_PORT, _CHANNELS, _KEYS, _NAME, _TLS,
// _ALLOW_INSECURE_TLS, and _ENCODING companions. Indexes may be sparse;
// entries come back in numeric order.
func serversFromEnv() []Server {
	indexes := make([]int, 0, 4)
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		match := serverHostPattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		if idx, err := strconv.Atoi(match[1]); err == nil {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	servers := make([]Server, 0, len(indexes))
	for _, idx := range indexes {
		s := serverFromEnv(idx)
		if s.Host == "" {
			continue
		}
		servers = append(servers, s)
	}
	return servers
}

func serverFromEnv(idx int) Server {
	prefix := "SERVER" + strconv.Itoa(idx) + "_"

	s := Server{
		Name: envString(prefix+"NAME", "SERVER"+strconv.Itoa(idx)),
		Host: strings.TrimSpace(os.Getenv(prefix + "HOST")),
		Port: envInt(prefix+"PORT", defaultServerPort),
		TLS:  parseBool(os.Getenv(prefix + "TLS")),
	}
	s.AllowInsecureTLS = parseBool(os.Getenv(prefix + "ALLOW_INSECURE_TLS"))
	s.Encoding = strings.TrimSpace(os.Getenv(prefix + "ENCODING"))

	s.Channels = parseList(os.Getenv(prefix + "CHANNELS"))
	if len(s.Channels) == 0 {
		s.Channels = []string{defaultServerChannel}
	}
	s.Keys = parseList(os.Getenv(prefix + "KEYS"))

	return s
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseList splits a comma-separated value, trimming whitespace and one
// level of surrounding quotes from each item. Empty items are dropped.
func parseList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		part = strings.Trim(part, `"'`)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
