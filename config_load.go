package verifygw

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path on top of
// DefaultConfig. Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// Load builds the runtime configuration: .env files are loaded into the
// process environment (existing variables win), then the config file at path
// (DefaultConfig when path is empty), then environment overrides.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFiles loads KEY=value files into the environment. Missing files
// are skipped; with no names, ".env" is tried.
func LoadEnvFiles(names ...string) error {
	if len(names) == 0 {
		names = []string{".env"}
	}
	for _, name := range names {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the deployment environment variables.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := getenv("REDIS_URL"); v != "" {
		cfg.Cache.Backend = CacheRedis
		cfg.Cache.RedisURL = v
	}
	if v := getenv("MEMCACHED_SERVERS"); v != "" {
		cfg.Cache.Backend = CacheMemcached
		cfg.Cache.MemcachedServers = splitList(v)
	}
	if v := getenv("CACHE_KEY_SECRET"); v != "" {
		cfg.Cache.KeySecret = v
	}
	if v := getenv("DEFAULT_CACHE_TTL"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEFAULT_CACHE_TTL: %w", err)
		}
		cfg.Cache.DefaultTTLSeconds = ttl
	}

	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Database = databaseFromURL(v)
	}
	if v := getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := getenv("CHATBOT_PROVIDER"); v != "" {
		cfg.Chat.Classifier = ChatClassifier(strings.ToLower(v))
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := getenv("AWS_REGION"); v != "" && cfg.Chat.Region == "" {
		cfg.Chat.Region = v
	}

	for i := range cfg.Providers {
		env := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(cfg.Providers[i].Name)) + "_API_KEY"
		if v := getenv(env); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
	return nil
}

// databaseFromURL maps DATABASE_URL onto a driver and DSN. postgres URLs
// select Postgres; anything else is a SQLite path, with an optional
// sqlite:// or sqlite:/// prefix.
func databaseFromURL(url string) DatabaseConfig {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DatabaseConfig{Driver: "postgres", DSN: url}
	case strings.HasPrefix(url, "sqlite:///"):
		return DatabaseConfig{Driver: "sqlite", DSN: strings.TrimPrefix(url, "sqlite:///")}
	case strings.HasPrefix(url, "sqlite://"):
		return DatabaseConfig{Driver: "sqlite", DSN: strings.TrimPrefix(url, "sqlite://")}
	default:
		return DatabaseConfig{Driver: "sqlite", DSN: url}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["server", "cache", "database", "providers", "chat"],
  "properties": {
    "server": {
      "type": "object",
      "required": ["port"],
      "properties": {
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "cors_origins": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
        "shutdown_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"enum": ["", "debug", "info", "warn", "warning", "error", "DEBUG", "INFO", "WARN", "WARNING", "ERROR"]},
        "format": {"enum": ["", "json", "text"]}
      }
    },
    "cache": {
      "type": "object",
      "required": ["backend", "default_ttl_seconds"],
      "properties": {
        "backend": {"enum": ["memory", "redis", "memcached"]},
        "memory_capacity": {"type": "integer", "minimum": 0},
        "default_ttl_seconds": {"type": "integer", "minimum": 1},
        "operation_timeout_ms": {"type": "integer", "minimum": 0},
        "memcached_servers": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}}
      }
    },
    "database": {
      "type": "object",
      "required": ["driver", "dsn"],
      "properties": {
        "driver": {"enum": ["sqlite", "postgres"]},
        "dsn": {"type": "string", "minLength": 1}
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "requests_per_second": {"type": "number", "minimum": 0},
        "burst": {"type": "number", "minimum": 0}
      }
    },
    "providers": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
          "type": {"enum": ["stub", "http"]},
          "timeout_ms": {"type": "integer", "minimum": 0},
          "max_retries": {"type": "integer", "minimum": 0, "maximum": 10},
          "failure_threshold": {"type": "integer", "minimum": 0}
        }
      }
    },
    "chat": {
      "type": "object",
      "required": ["classifier"],
      "properties": {
        "classifier": {"enum": ["rules", "openai", "bedrock"]},
        "session_ttl_seconds": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var configSchema = jsonschema.MustCompileString("verifygw-config.schema.json", configSchemaJSON)

// ValidateConfig validates a Config for correctness: the JSON schema first,
// then the rules that span fields.
func ValidateConfig(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Cache.Backend {
	case CacheRedis:
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("redis cache backend requires redis_url")
		}
	case CacheMemcached:
		if len(cfg.Cache.MemcachedServers) == 0 {
			return fmt.Errorf("memcached cache backend requires memcached_servers")
		}
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		name := strings.ToLower(p.Name)
		if seen[name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[name] = true
		if p.Type == ProviderHTTP && p.VerifyURL == "" {
			return fmt.Errorf("http provider %q requires verify_url", p.Name)
		}
	}
	if cfg.DefaultProvider != "" && !seen[strings.ToLower(cfg.DefaultProvider)] {
		return fmt.Errorf("default_provider %q is not configured", cfg.DefaultProvider)
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RequestsPerSecond <= 0 || cfg.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limiting requires requests_per_second > 0 and burst >= 1")
	}

	switch cfg.Chat.Classifier {
	case ClassifierOpenAI:
		if cfg.Chat.APIKey == "" {
			return fmt.Errorf("openai chat classifier requires an api_key")
		}
	case ClassifierBedrock:
		if cfg.Chat.Region == "" {
			return fmt.Errorf("bedrock chat classifier requires a region")
		}
	}

	return nil
}
