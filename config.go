// Package verifygw holds the configuration of the verification gateway.
package verifygw

import "time"

// Config holds the configuration for verifygw.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	// Providers lists the insurance providers. The first one, or the one
	// named by DefaultProvider, answers requests that name no provider.
	Providers       []ProviderConfig `json:"providers" yaml:"providers"`
	DefaultProvider string           `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	Chat            ChatConfig       `json:"chat" yaml:"chat"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port        int      `json:"port" yaml:"port"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds,omitempty" yaml:"shutdown_seconds,omitempty"`
}

// LoggingConfig selects the slog level and handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// CacheBackend names a KV store implementation.
type CacheBackend string

// CacheBackend constants define the supported cache stores.
const (
	CacheMemory    CacheBackend = "memory"
	CacheRedis     CacheBackend = "redis"
	CacheMemcached CacheBackend = "memcached"
)

// CacheConfig configures the cache coordinator and its store.
type CacheConfig struct {
	Backend CacheBackend `json:"backend" yaml:"backend"`
	// RedisURL is a redis:// URL, used by the redis backend.
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	// KeyPrefix is prepended to every redis key.
	KeyPrefix          string   `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
	MemcachedServers   []string `json:"memcached_servers,omitempty" yaml:"memcached_servers,omitempty"`
	MemoryCapacity     int      `json:"memory_capacity,omitempty" yaml:"memory_capacity,omitempty"`
	DefaultTTLSeconds  int      `json:"default_ttl_seconds" yaml:"default_ttl_seconds"`
	KeySecret          string   `json:"key_secret,omitempty" yaml:"key_secret,omitempty"`
	OperationTimeoutMS int      `json:"operation_timeout_ms,omitempty" yaml:"operation_timeout_ms,omitempty"`
}

// DefaultTTL returns the cache TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// OperationTimeout returns the per-operation timeout of network stores.
func (c CacheConfig) OperationTimeout() time.Duration {
	if c.OperationTimeoutMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

// DatabaseConfig selects the SQL store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// AuthConfig configures bearer authentication. An empty secret disables it.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
}

// RateLimitConfig configures per-caller token buckets.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             float64 `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// ProviderType names a provider client implementation.
type ProviderType string

// ProviderType constants define the supported provider clients.
const (
	ProviderStub ProviderType = "stub"
	ProviderHTTP ProviderType = "http"
)

// ProviderConfig configures one insurance provider.
type ProviderConfig struct {
	Name string       `json:"name" yaml:"name"`
	Type ProviderType `json:"type" yaml:"type"`
	// APIKey is sent as a bearer token. For stub providers its presence
	// only changes the reported record source.
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	VerifyURL  string `json:"verify_url,omitempty" yaml:"verify_url,omitempty"`
	PolicyURL  string `json:"policy_url,omitempty" yaml:"policy_url,omitempty"`
	TimeoutMS  int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// FailureThreshold opens the circuit breaker after this many
	// consecutive failures.
	FailureThreshold int `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
}

// Timeout returns the per-request provider timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// ChatClassifier names an intent classifier.
type ChatClassifier string

// ChatClassifier constants define the supported classifiers.
const (
	ClassifierRules   ChatClassifier = "rules"
	ClassifierOpenAI  ChatClassifier = "openai"
	ClassifierBedrock ChatClassifier = "bedrock"
)

// ChatConfig configures the chat assistant.
type ChatConfig struct {
	Classifier ChatClassifier `json:"classifier" yaml:"classifier"`
	Model      string         `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey     string         `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string         `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Region is the AWS region of the bedrock classifier.
	Region            string `json:"region,omitempty" yaml:"region,omitempty"`
	SessionTTLSeconds int    `json:"session_ttl_seconds,omitempty" yaml:"session_ttl_seconds,omitempty"`
}

// SessionTTL returns the idle lifetime of chat sessions.
func (c ChatConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// DefaultConfig returns a configuration that runs without any external
// service: in-memory cache, SQLite, one stub provider and the rule based
// chat classifier.
func DefaultConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8000, ShutdownSeconds: 15},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Cache: CacheConfig{
			Backend:           CacheMemory,
			MemoryCapacity:    10000,
			DefaultTTLSeconds: 3600,
			KeyPrefix:         "verifygw:",
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "verifygw.db"},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Providers: []ProviderConfig{{Name: "provider_a", Type: ProviderStub}},
		Chat:      ChatConfig{Classifier: ClassifierRules, SessionTTLSeconds: 3600},
	}
}
