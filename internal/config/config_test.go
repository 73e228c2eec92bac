package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("SPATIALREAL_API_KEY", "test-api-key")
	os.Setenv("SPATIALREAL_APP_ID", "test-app")
	defer os.Unsetenv("SPATIALREAL_API_KEY")
	defer os.Unsetenv("SPATIALREAL_APP_ID")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SpatialRealAPIKey != "test-api-key" {
		t.Errorf("Expected SpatialRealAPIKey 'test-api-key', got '%s'", cfg.SpatialRealAPIKey)
	}

	if cfg.SpatialRealAppID != "test-app" {
		t.Errorf("Expected SpatialRealAppID 'test-app', got '%s'", cfg.SpatialRealAppID)
	}
}

func TestLoad_InvalidQueueSize(t *testing.T) {
	os.Setenv("AUDIO_QUEUE_SIZE", "0")
	defer os.Unsetenv("AUDIO_QUEUE_SIZE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when AUDIO_QUEUE_SIZE is zero")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.GRPCPort != "9090" {
		t.Errorf("Expected default GRPCPort '9090', got '%s'", cfg.GRPCPort)
	}

	if cfg.SpatialRealConsoleEndpoint != "https://console.us-west.spatialwalk.cloud/v1/console" {
		t.Errorf("Unexpected default console endpoint '%s'", cfg.SpatialRealConsoleEndpoint)
	}

	if cfg.SpatialRealIngressEndpoint != "wss://api.us-west.spatialwalk.cloud/v2/driveningress" {
		t.Errorf("Unexpected default ingress endpoint '%s'", cfg.SpatialRealIngressEndpoint)
	}

	if cfg.AvatarParticipantIdentity != "spatialreal-avatar" {
		t.Errorf("Expected default identity 'spatialreal-avatar', got '%s'", cfg.AvatarParticipantIdentity)
	}

	if cfg.AvatarSessionTTL != 3600 {
		t.Errorf("Expected default AvatarSessionTTL 3600, got %d", cfg.AvatarSessionTTL)
	}

	if cfg.AudioQueueSize != 256 {
		t.Errorf("Expected default AudioQueueSize 256, got %d", cfg.AudioQueueSize)
	}

	if cfg.DefaultSampleRate != 24000 {
		t.Errorf("Expected default DefaultSampleRate 24000, got %d", cfg.DefaultSampleRate)
	}
}

func TestResolve(t *testing.T) {
	lookup := MapLookup(map[string]string{
		"SET_KEY":   "from-env",
		"EMPTY_KEY": "",
	})

	if got := Resolve("explicit", lookup, "SET_KEY", "def"); got != "explicit" {
		t.Errorf("Expected explicit value to win, got '%s'", got)
	}

	if got := Resolve("", lookup, "SET_KEY", "def"); got != "from-env" {
		t.Errorf("Expected 'from-env', got '%s'", got)
	}

	if got := Resolve("", lookup, "EMPTY_KEY", "def"); got != "def" {
		t.Errorf("Expected empty env value to fall through to default, got '%s'", got)
	}

	if got := Resolve("", lookup, "MISSING_KEY", ""); got != "" {
		t.Errorf("Expected empty result, got '%s'", got)
	}

	if got := Resolve("", nil, "SET_KEY", "def"); got != "def" {
		t.Errorf("Expected default with nil lookup, got '%s'", got)
	}
}

func TestHasLiveKitCredentials(t *testing.T) {
	cfg := &Config{LiveKitURL: "wss://lk", LiveKitAPIKey: "key"}
	if cfg.HasLiveKitCredentials() {
		t.Error("Expected missing secret to report false")
	}

	cfg.LiveKitAPISecret = "secret"
	if !cfg.HasLiveKitCredentials() {
		t.Error("Expected complete credentials to report true")
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
}
