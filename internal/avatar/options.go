package avatar

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/agent"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/config"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/resilience"
)

const (
	DefaultConsoleEndpoint     = "https://console.us-west.spatialwalk.cloud/v1/console"
	DefaultIngressEndpoint     = "wss://api.us-west.spatialwalk.cloud/v2/driveningress"
	DefaultParticipantIdentity = "spatialreal-avatar"
	DefaultSessionTTL          = time.Hour
	DefaultQueueSize           = 256
)

// Environment variables consulted when a value is not passed explicitly
const (
	EnvAPIKey              = "SPATIALREAL_API_KEY"
	EnvAppID               = "SPATIALREAL_APP_ID"
	EnvAvatarID            = "SPATIALREAL_AVATAR_ID"
	EnvConsoleEndpoint     = "SPATIALREAL_CONSOLE_ENDPOINT"
	EnvIngressEndpoint     = "SPATIALREAL_INGRESS_ENDPOINT"
	EnvParticipantIdentity = "SPATIALREAL_AVATAR_IDENTITY"
	EnvLiveKitURL          = "LIVEKIT_URL"
	EnvLiveKitAPIKey       = "LIVEKIT_API_KEY"
	EnvLiveKitAPISecret    = "LIVEKIT_API_SECRET"
)

// Options are the explicit settings for a Session. Empty fields fall back to
// the environment and then to defaults.
type Options struct {
	APIKey                    string
	AppID                     string
	AvatarID                  string
	ConsoleEndpoint           string
	IngressEndpoint           string
	AvatarParticipantIdentity string
	SessionTTL                time.Duration
}

// StartOptions carry the LiveKit credentials the avatar uses to join the room
type StartOptions struct {
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
}

// Option customizes how a Session is built
type Option func(*sessionSettings)

type sessionSettings struct {
	lookup            config.LookupFunc
	connector         Connector
	logger            zerolog.Logger
	hasLogger         bool
	now               func() time.Time
	queueSize         int
	defaultSampleRate int
	newSink           func(sampleRate, capacity int) *agent.QueueAudioOutput
}

func defaultSettings() sessionSettings {
	return sessionSettings{
		lookup:            os.LookupEnv,
		connector:         DefaultConnector,
		now:               time.Now,
		queueSize:         DefaultQueueSize,
		defaultSampleRate: agent.DefaultSampleRate,
		newSink:           agent.NewQueueAudioOutput,
	}
}

// WithLookup replaces os.LookupEnv as the fallback source
func WithLookup(lookup config.LookupFunc) Option {
	return func(s *sessionSettings) {
		if lookup != nil {
			s.lookup = lookup
		}
	}
}

// WithConnector replaces the SpatialReal client with another Connection
func WithConnector(c Connector) Option {
	return func(s *sessionSettings) {
		if c != nil {
			s.connector = c
		}
	}
}

// WithLogger sets the base logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *sessionSettings) {
		s.logger = logger
		s.hasLogger = true
	}
}

// WithQueueSize bounds the number of audio items buffered for the avatar
func WithQueueSize(n int) Option {
	return func(s *sessionSettings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDefaultSampleRate sets the rate used when the agent has no TTS
func WithDefaultSampleRate(rate int) Option {
	return func(s *sessionSettings) {
		if rate > 0 {
			s.defaultSampleRate = rate
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *sessionSettings) {
		s.now = now
	}
}

func withSinkFactory(newSink func(sampleRate, capacity int) *agent.QueueAudioOutput) Option {
	return func(s *sessionSettings) {
		s.newSink = newSink
	}
}

// OptionsFromConfig maps the service configuration onto Session options
func OptionsFromConfig(cfg *config.Config) (Options, StartOptions, []Option) {
	opts := Options{
		APIKey:                    cfg.SpatialRealAPIKey,
		AppID:                     cfg.SpatialRealAppID,
		AvatarID:                  cfg.SpatialRealAvatarID,
		ConsoleEndpoint:           cfg.SpatialRealConsoleEndpoint,
		IngressEndpoint:           cfg.SpatialRealIngressEndpoint,
		AvatarParticipantIdentity: cfg.AvatarParticipantIdentity,
		SessionTTL:                time.Duration(cfg.AvatarSessionTTL) * time.Second,
	}
	start := StartOptions{
		LiveKitURL:       cfg.LiveKitURL,
		LiveKitAPIKey:    cfg.LiveKitAPIKey,
		LiveKitAPISecret: cfg.LiveKitAPISecret,
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	breaker := NewConsoleBreaker(cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)

	extra := []Option{
		WithConnector(SpatialRealConnector(retry, breaker)),
		WithQueueSize(cfg.AudioQueueSize),
		WithDefaultSampleRate(cfg.DefaultSampleRate),
	}
	return opts, start, extra
}

// resolved holds the settings a Session runs with. Nothing in it changes
// after New.
type resolved struct {
	apiKey              string
	appID               string
	avatarID            string
	consoleEndpoint     string
	ingressEndpoint     string
	participantIdentity string
	sessionTTL          time.Duration
}

func resolveOptions(opts Options, lookup config.LookupFunc) (resolved, error) {
	var r resolved
	var err error

	if r.apiKey, err = resolveAPIKey(opts.APIKey, lookup); err != nil {
		return r, err
	}
	if r.appID, err = resolveAppID(opts.AppID, lookup); err != nil {
		return r, err
	}
	if r.avatarID, err = resolveAvatarID(opts.AvatarID, lookup); err != nil {
		return r, err
	}
	r.consoleEndpoint = resolveConsoleEndpoint(opts.ConsoleEndpoint, lookup)
	r.ingressEndpoint = resolveIngressEndpoint(opts.IngressEndpoint, lookup)
	r.participantIdentity = resolveParticipantIdentity(opts.AvatarParticipantIdentity, lookup)
	r.sessionTTL = opts.SessionTTL
	if r.sessionTTL <= 0 {
		r.sessionTTL = DefaultSessionTTL
	}
	return r, nil
}

func required(explicit string, lookup config.LookupFunc, field, env string) (string, error) {
	v := config.Resolve(explicit, lookup, env, "")
	if v == "" {
		return "", &ConfigError{Field: field, EnvVar: env}
	}
	return v, nil
}

func resolveAPIKey(explicit string, lookup config.LookupFunc) (string, error) {
	return required(explicit, lookup, "api_key", EnvAPIKey)
}

func resolveAppID(explicit string, lookup config.LookupFunc) (string, error) {
	return required(explicit, lookup, "app_id", EnvAppID)
}

func resolveAvatarID(explicit string, lookup config.LookupFunc) (string, error) {
	return required(explicit, lookup, "avatar_id", EnvAvatarID)
}

func resolveConsoleEndpoint(explicit string, lookup config.LookupFunc) string {
	return config.Resolve(explicit, lookup, EnvConsoleEndpoint, DefaultConsoleEndpoint)
}

func resolveIngressEndpoint(explicit string, lookup config.LookupFunc) string {
	return config.Resolve(explicit, lookup, EnvIngressEndpoint, DefaultIngressEndpoint)
}

func resolveParticipantIdentity(explicit string, lookup config.LookupFunc) string {
	return config.Resolve(explicit, lookup, EnvParticipantIdentity, DefaultParticipantIdentity)
}

// resolveStartOptions fills LiveKit credentials from the environment. All
// three are required.
func resolveStartOptions(opts StartOptions, lookup config.LookupFunc) (StartOptions, error) {
	var out StartOptions
	var err error

	if out.LiveKitURL, err = required(opts.LiveKitURL, lookup, "livekit_url", EnvLiveKitURL); err != nil {
		return out, err
	}
	if out.LiveKitAPIKey, err = required(opts.LiveKitAPIKey, lookup, "livekit_api_key", EnvLiveKitAPIKey); err != nil {
		return out, err
	}
	if out.LiveKitAPISecret, err = required(opts.LiveKitAPISecret, lookup, "livekit_api_secret", EnvLiveKitAPISecret); err != nil {
		return out, err
	}
	return out, nil
}
