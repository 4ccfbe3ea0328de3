package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// envMappings maps the environment variables the service has always read
// onto koanf paths. Variables not listed here are ignored.
var envMappings = map[string]string{
	"environment":             "environment",
	"api_addr":                "server.addr",
	"cors_origins":            "server.cors_origins",
	"auth_rate_limit":         "server.auth_rate_limit",
	"database_url":            "database.url",
	"migrations_dir":          "database.migrations_dir",
	"jwt_secret":              "auth.jwt_secret",
	"token_ttl":               "auth.token_ttl",
	"redis_url":               "redis.url",
	"storage_endpoint":        "storage.endpoint",
	"storage_access_key":      "storage.access_key",
	"storage_secret_key":      "storage.secret_key",
	"storage_bucket":          "storage.bucket",
	"storage_public_base_url": "storage.public_base_url",
	"storage_use_ssl":         "storage.use_ssl",
	"storage_max_upload":      "storage.max_upload_bytes",
	"nominatim_base_url":      "geocoding.base_url",
	"nominatim_user_agent":    "geocoding.user_agent",
	"geocoding_timeout":       "geocoding.timeout",
	"gemini_api_key":          "insight.api_key",
	"gemini_model":            "insight.model",
	"gemini_base_url":         "insight.base_url",
	"insight_timeout":         "insight.timeout",
	"meili_url":               "search.meili_url",
	"meili_master_key":        "search.meili_master_key",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

var sliceConfigPaths = []string{"server.cors_origins"}

// Load layers defaults, an optional YAML file and environment variables
// (highest priority). A .env file in the working directory is read first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
