package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the avatar relay service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // gRPC health service

	// SpatialReal avatar service configuration.
	// Credentials are optional here: the relay resolves them per session and
	// fails the session start when they are missing.
	SpatialRealAPIKey          string `envconfig:"SPATIALREAL_API_KEY"`
	SpatialRealAppID           string `envconfig:"SPATIALREAL_APP_ID"`
	SpatialRealAvatarID        string `envconfig:"SPATIALREAL_AVATAR_ID"`
	SpatialRealConsoleEndpoint string `envconfig:"SPATIALREAL_CONSOLE_ENDPOINT" default:"https://console.us-west.spatialwalk.cloud/v1/console"`
	SpatialRealIngressEndpoint string `envconfig:"SPATIALREAL_INGRESS_ENDPOINT" default:"wss://api.us-west.spatialwalk.cloud/v2/driveningress"`
	AvatarParticipantIdentity  string `envconfig:"SPATIALREAL_AVATAR_IDENTITY" default:"spatialreal-avatar"`
	AvatarSessionTTL           int    `envconfig:"AVATAR_SESSION_TTL" default:"3600"` // seconds

	// LiveKit room transport credentials handed to the avatar service
	LiveKitURL       string `envconfig:"LIVEKIT_URL"`
	LiveKitAPIKey    string `envconfig:"LIVEKIT_API_KEY"`
	LiveKitAPISecret string `envconfig:"LIVEKIT_API_SECRET"`

	// Audio configuration
	AudioQueueSize    int `envconfig:"AUDIO_QUEUE_SIZE" default:"256"`      // Queued audio items per session
	DefaultSampleRate int `envconfig:"DEFAULT_SAMPLE_RATE" default:"24000"` // Used when the agent reports none

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failed console token requests before the breaker opens
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before probing again
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Console token request attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	TraceEndpoint  string `envconfig:"TRACE_EXPORTER_ENDPOINT"`        // OTLP/HTTP traces URL; spans stay local when empty
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.AudioQueueSize <= 0 {
		return nil, fmt.Errorf("AUDIO_QUEUE_SIZE must be positive, got %d", cfg.AudioQueueSize)
	}
	if cfg.AvatarSessionTTL <= 0 {
		return nil, fmt.Errorf("AVATAR_SESSION_TTL must be positive, got %d", cfg.AvatarSessionTTL)
	}

	return &cfg, nil
}

// HasLiveKitCredentials reports whether all room transport credentials are set
func (c *Config) HasLiveKitCredentials() bool {
	return c.LiveKitURL != "" && c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

// LookupFunc looks up a configuration value by key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Resolve returns explicit when set, otherwise the value lookup finds for key,
// otherwise defaultValue. Empty values count as unset.
func Resolve(explicit string, lookup LookupFunc, key, defaultValue string) string {
	if explicit != "" {
		return explicit
	}
	if lookup != nil && key != "" {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
	}
	return defaultValue
}

// MapLookup returns a LookupFunc backed by a map, for tests and static setups
func MapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
