package avatar

import (
	"errors"
	"testing"
	"time"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/resilience"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/spatialreal"
)

func TestNewConsoleBreaker(t *testing.T) {
	breaker := NewConsoleBreaker(2, time.Minute)
	if breaker.Name() != "spatialreal_console" {
		t.Errorf("Expected name 'spatialreal_console', got '%s'", breaker.Name())
	}

	failing := func() error { return errors.New("console unavailable") }
	breaker.Call(failing)
	breaker.Call(failing)

	if breaker.GetState() != resilience.StateOpen {
		t.Fatalf("Expected open after 2 failures, got %s", breaker.GetState())
	}
	if err := breaker.Call(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestSpatialRealConnector(t *testing.T) {
	connect := SpatialRealConnector(nil, NewConsoleBreaker(1, time.Minute))
	conn, err := connect(ConnectionDescriptor{APIKey: "k", AppID: "a", AvatarID: "v", SampleRate: 24000})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, ok := conn.(*spatialreal.Client); !ok {
		t.Errorf("Expected *spatialreal.Client, got %T", conn)
	}
}
