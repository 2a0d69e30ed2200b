package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	koanfenv "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnv names an optional YAML file whose keys are layered under the
// process environment. Keys are matched case-insensitively, so API_BASE_URL in
// the environment and api_base_url in the file address the same setting.
const ConfigFileEnv = "UMRAH_CONFIG_FILE"

var (
	mu     sync.RWMutex
	loaded *koanf.Koanf
)

func source() *koanf.Koanf {
	mu.RLock()
	k := loaded
	mu.RUnlock()
	if k != nil {
		return k
	}

	mu.Lock()
	defer mu.Unlock()
	if loaded == nil {
		loaded = load()
	}
	return loaded
}

func load() *koanf.Koanf {
	k := koanf.New("::")
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			fmt.Fprintf(os.Stderr, "config file %s ignored: %v\n", path, err)
		}
	}
	if err := k.Load(koanfenv.Provider("", "::", strings.ToLower), nil); err != nil {
		fmt.Fprintf(os.Stderr, "load environment: %v\n", err)
	}
	return k
}

// Reload drops the cached configuration so the next lookup re-reads the file
// and the environment.
func Reload() {
	mu.Lock()
	loaded = nil
	mu.Unlock()
}

func lookup(key string) string {
	k := source()
	name := strings.ToLower(strings.TrimSpace(key))
	if !k.Exists(name) {
		return ""
	}
	if values := k.Strings(name); len(values) > 1 {
		return strings.Join(values, ",")
	}
	return strings.TrimSpace(k.String(name))
}

func String(key, fallback string) string {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func Int(key string, fallback int) int {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func Bool(key string, fallback bool) bool {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Millis reads a positive integer number of milliseconds.
func Millis(key string, fallback time.Duration) time.Duration {
	v := lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func CSV(key string, fallback []string) []string {
	v := lookup(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	if len(result) == 0 {
		return append([]string(nil), fallback...)
	}
	return result
}
