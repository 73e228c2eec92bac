package avatar

import (
	"context"
	"time"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/resilience"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/spatialreal"
)

// Connection is a handle to one remote avatar session. A Session owns its
// Connection: Init and Start are called once, Close exactly once, and it is
// never reused.
type Connection interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	SendAudio(ctx context.Context, data []byte, end bool) error
	Interrupt(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Connector opens a Connection for a descriptor. It must not do network I/O;
// that happens in Init and Start.
type Connector func(desc ConnectionDescriptor) (Connection, error)

// DefaultConnector connects to SpatialReal with the default retry policy and
// a process-wide console breaker
var DefaultConnector = SpatialRealConnector(nil, NewConsoleBreaker(5, 30*time.Second))

// NewConsoleBreaker returns the breaker shared by every session's console
// token request. State changes are exported as metrics and logged.
func NewConsoleBreaker(maxFailures int, resetTimeout time.Duration) *resilience.CircuitBreaker {
	breaker := resilience.NewCircuitBreaker("spatialreal_console", maxFailures, resetTimeout)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))

		_, requests, failures, failureRate := breaker.GetStats()
		logger := observability.GetLogger()
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Int64("requests", requests).
			Int64("failures", failures).
			Float64("failure_rate", failureRate).
			Msg("SpatialReal console circuit changed state")
	})
	return breaker
}

// SpatialRealConnector returns a Connector backed by spatialreal.Client.
// retry controls the console token request; nil uses the default. breaker,
// when set, stops token requests while the console keeps failing. It never
// touches audio sends.
func SpatialRealConnector(retry *resilience.RetryConfig, breaker *resilience.CircuitBreaker) Connector {
	return func(desc ConnectionDescriptor) (Connection, error) {
		egress := desc.Egress
		return spatialreal.NewClient(spatialreal.Config{
			APIKey:          desc.APIKey,
			AppID:           desc.AppID,
			AvatarID:        desc.AvatarID,
			ConsoleEndpoint: desc.ConsoleEndpoint,
			IngressEndpoint: desc.IngressEndpoint,
			ExpireAt:        desc.ExpireAt,
			SampleRate:      desc.SampleRate,
			Egress:          &egress,
			Retry:           retry,
			Breaker:         breaker,
		}), nil
	}
}

var _ Connection = (*spatialreal.Client)(nil)
