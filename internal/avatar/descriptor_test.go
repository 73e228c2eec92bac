package avatar

import (
	"testing"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/config"
)

func TestBuildDescriptor(t *testing.T) {
	r := resolved{
		apiKey:              "sr-key",
		appID:               "sr-app",
		avatarID:            "avatar-1",
		consoleEndpoint:     DefaultConsoleEndpoint,
		ingressEndpoint:     DefaultIngressEndpoint,
		participantIdentity: "my-avatar",
		sessionTTL:          30 * time.Minute,
	}
	lk := StartOptions{LiveKitURL: "wss://lk", LiveKitAPIKey: "lk-key", LiveKitAPISecret: "lk-secret"}
	now := time.Unix(1700000000, 0)

	desc, err := buildDescriptor(r, lk, "studio", 16000, now)
	if err != nil {
		t.Fatalf("buildDescriptor failed: %v", err)
	}

	if desc.ExpireAt != now.Add(30*time.Minute) {
		t.Errorf("Expected expiry %v, got %v", now.Add(30*time.Minute), desc.ExpireAt)
	}
	if desc.ParticipantIdentity != "my-avatar" || desc.Egress.PublisherID != "my-avatar" {
		t.Errorf("Expected identity 'my-avatar', got '%s' / '%s'", desc.ParticipantIdentity, desc.Egress.PublisherID)
	}
	if desc.SampleRate != 16000 {
		t.Errorf("Expected 16000, got %d", desc.SampleRate)
	}
	if desc.Egress.APIKey != "lk-key" || desc.Egress.APISecret != "lk-secret" {
		t.Errorf("Unexpected egress credentials %+v", desc.Egress)
	}

	verifier, err := auth.ParseAPIToken(desc.Egress.Token)
	if err != nil {
		t.Fatalf("Failed to parse join token: %v", err)
	}
	if verifier.Identity() != "my-avatar" {
		t.Errorf("Expected token identity 'my-avatar', got '%s'", verifier.Identity())
	}
	if verifier.APIKey() != "lk-key" {
		t.Errorf("Expected token issuer 'lk-key', got '%s'", verifier.APIKey())
	}
}

func TestResolveStartOptions(t *testing.T) {
	lookup := config.MapLookup(map[string]string{
		EnvLiveKitURL:       "wss://env",
		EnvLiveKitAPIKey:    "env-key",
		EnvLiveKitAPISecret: "env-secret",
	})

	got, err := resolveStartOptions(StartOptions{LiveKitURL: "wss://explicit"}, lookup)
	if err != nil {
		t.Fatalf("resolveStartOptions failed: %v", err)
	}
	if got.LiveKitURL != "wss://explicit" {
		t.Errorf("Expected explicit url, got '%s'", got.LiveKitURL)
	}
	if got.LiveKitAPIKey != "env-key" || got.LiveKitAPISecret != "env-secret" {
		t.Errorf("Expected env credentials, got %+v", got)
	}

	if _, err := resolveStartOptions(StartOptions{}, config.MapLookup(nil)); err == nil {
		t.Error("Expected error without LiveKit credentials")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		SpatialRealAPIKey:   "k",
		SpatialRealAppID:    "a",
		SpatialRealAvatarID: "v",
		AvatarSessionTTL:    120,
		LiveKitURL:          "wss://lk",
		AudioQueueSize:      32,
		DefaultSampleRate:   16000,
		RetryMaxAttempts:    2,
	}

	opts, start, extra := OptionsFromConfig(cfg)
	if opts.SessionTTL != 2*time.Minute {
		t.Errorf("Expected 2m TTL, got %v", opts.SessionTTL)
	}
	if start.LiveKitURL != "wss://lk" {
		t.Errorf("Expected LiveKit url, got '%s'", start.LiveKitURL)
	}

	s, err := New(opts, append(extra, WithLookup(config.MapLookup(nil)))...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.settings.queueSize != 32 {
		t.Errorf("Expected queue size 32, got %d", s.settings.queueSize)
	}
	if s.settings.defaultSampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", s.settings.defaultSampleRate)
	}
}
