package verifygw

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Valid(t *testing.T) {
	data := `{
		"server": {"port": 9000},
		"cache": {"backend": "redis", "redis_url": "redis://localhost:6379/0", "default_ttl_seconds": 600},
		"providers": [
			{"name": "provider_a", "type": "stub"},
			{"name": "acme", "type": "http", "verify_url": "https://acme.example/api/verify"}
		],
		"default_provider": "acme"
	}`
	path := writeTempFile(t, "config.json", data)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Cache.Backend != CacheRedis {
		t.Errorf("expected backend %q, got %q", CacheRedis, cfg.Cache.Backend)
	}
	if cfg.Cache.DefaultTTL() != 10*time.Minute {
		t.Errorf("expected ttl 10m, got %s", cfg.Cache.DefaultTTL())
	}
	if len(cfg.Providers) != 2 {
		t.Errorf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected default sqlite driver, got %q", cfg.Database.Driver)
	}
	if err := ValidateConfig(*cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("/tmp/does-not-exist-config-12345.json")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeTempFile(t, "bad.json", `{invalid`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	data := `
server:
  port: 8081
cache:
  backend: memcached
  memcached_servers: ["127.0.0.1:11211"]
  default_ttl_seconds: 120
chat:
  classifier: bedrock
  region: us-east-1
`
	path := writeTempFile(t, "config.yaml", data)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.Backend != CacheMemcached {
		t.Errorf("expected backend %q, got %q", CacheMemcached, cfg.Cache.Backend)
	}
	if cfg.Chat.Classifier != ClassifierBedrock {
		t.Errorf("expected classifier %q, got %q", ClassifierBedrock, cfg.Chat.Classifier)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "provider_a" {
		t.Errorf("expected the default provider list, got %+v", cfg.Providers)
	}
	if err := ValidateConfig(*cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", "key = value")
	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestValidateConfig_Default(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
}

func TestValidateConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid config"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }, "invalid config"},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTLSeconds = 0 }, "invalid config"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid config"},
		{"no providers", func(c *Config) { c.Providers = nil }, "invalid config"},
		{"bad provider name", func(c *Config) { c.Providers[0].Name = "a b" }, "invalid config"},
		{"unknown classifier", func(c *Config) { c.Chat.Classifier = "ollama" }, "invalid config"},
		{"redis without url", func(c *Config) { c.Cache.Backend = CacheRedis }, "redis_url"},
		{"memcached without servers", func(c *Config) { c.Cache.Backend = CacheMemcached }, "memcached_servers"},
		{"duplicate provider", func(c *Config) {
			c.Providers = append(c.Providers, ProviderConfig{Name: "PROVIDER_A", Type: ProviderStub})
		}, "duplicate provider"},
		{"http provider without url", func(c *Config) {
			c.Providers = append(c.Providers, ProviderConfig{Name: "acme", Type: ProviderHTTP})
		}, "verify_url"},
		{"unknown default provider", func(c *Config) { c.DefaultProvider = "acme" }, "default_provider"},
		{"zero rate", func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }, "rate limiting"},
		{"openai without key", func(c *Config) { c.Chat.Classifier = ClassifierOpenAI }, "api_key"},
		{"bedrock without region", func(c *Config) { c.Chat.Classifier = ClassifierBedrock }, "region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":               "9100",
		"REDIS_URL":          "redis://cache:6379/1",
		"DATABASE_URL":       "postgres://u:p@db:5432/verify?sslmode=disable",
		"CACHE_KEY_SECRET":   "pepper",
		"DEFAULT_CACHE_TTL":  "60",
		"JWT_SECRET":         "s3cret",
		"OPENAI_API_KEY":     "sk-test",
		"CHATBOT_PROVIDER":   "OpenAI",
		"PROVIDER_A_API_KEY": "pa-key",
		"CORS_ORIGINS":       "https://a.example, https://b.example,",
	}
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.RedisURL != "redis://cache:6379/1" {
		t.Errorf("cache: got %+v", cfg.Cache)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("database driver: got %q", cfg.Database.Driver)
	}
	if cfg.Cache.KeySecret != "pepper" || cfg.Cache.DefaultTTLSeconds != 60 {
		t.Errorf("cache secret/ttl: got %+v", cfg.Cache)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt secret: got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Chat.Classifier != ClassifierOpenAI || cfg.Chat.APIKey != "sk-test" {
		t.Errorf("chat: got %+v", cfg.Chat)
	}
	if cfg.Providers[0].APIKey != "pa-key" {
		t.Errorf("provider key: got %q", cfg.Providers[0].APIKey)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("cors origins: got %v", cfg.Server.CORSOrigins)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestApplyEnv_BadNumbers(t *testing.T) {
	for _, key := range []string{"PORT", "DEFAULT_CACHE_TTL"} {
		cfg := DefaultConfig()
		err := ApplyEnv(&cfg, func(k string) string {
			if k == key {
				return "soon"
			}
			return ""
		})
		if err == nil {
			t.Errorf("%s: expected parse error", key)
		}
	}
}

func TestDatabaseFromURL(t *testing.T) {
	tests := []struct {
		url    string
		driver string
		dsn    string
	}{
		{"postgresql://db/verify", "postgres", "postgresql://db/verify"},
		{"sqlite:///./data/app.db", "sqlite", "./data/app.db"},
		{"sqlite://app.db", "sqlite", "app.db"},
		{"/var/lib/verifygw.db", "sqlite", "/var/lib/verifygw.db"},
	}
	for _, tt := range tests {
		got := databaseFromURL(tt.url)
		if got.Driver != tt.driver || got.DSN != tt.dsn {
			t.Errorf("databaseFromURL(%q) = %+v", tt.url, got)
		}
	}
}

func TestLoad_EnvFile(t *testing.T) {
	envPath := writeTempFile(t, ".env", "VERIFYGW_TEST_ONLY=1\nJWT_SECRET=from-dotenv\n")
	t.Setenv("JWT_SECRET", "")
	if err := os.Unsetenv("JWT_SECRET"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("VERIFYGW_TEST_ONLY") })

	cfg, err := Load("", envPath, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-dotenv" {
		t.Errorf("expected secret from .env, got %q", cfg.Auth.JWTSecret)
	}
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}
