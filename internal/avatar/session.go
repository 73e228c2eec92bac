// Package avatar relays an agent's TTS audio to a SpatialReal avatar so it
// can render a lip-synced participant in the LiveKit room.
//
// A Session resolves its credentials up front, connects on Start, then runs
// one forwarder goroutine that drains the agent's audio into the avatar
// connection. Clear-buffer events from the agent become avatar interrupts.
// The session tears itself down when the agent session closes.
package avatar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/agent"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
)

// closeTimeout bounds teardown triggered by the agent session closing
const closeTimeout = 10 * time.Second

// State is the lifecycle state of a Session
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session relays one agent session's audio to one avatar
type Session struct {
	cfg      resolved
	settings sessionSettings
	logger   zerolog.Logger

	// startMu serializes Start calls
	startMu sync.Mutex

	mu    sync.Mutex
	state State
	run   *activation
}

// activation holds everything owned by one Start..Close cycle
type activation struct {
	logger  zerolog.Logger
	conn    Connection
	sink    agent.AudioSink
	metrics *observability.SessionMetrics

	cancelForward    context.CancelFunc
	forwarderDone    chan struct{}
	interruptCtx     context.Context
	cancelInterrupts context.CancelFunc
	interrupts       sync.WaitGroup

	unsubscribeClear func()
	unsubscribeClose func()
	closed           chan struct{}
}

// New resolves opts against the environment and returns an idle Session.
// A missing api key, app id or avatar id is a *ConfigError.
func New(opts Options, options ...Option) (*Session, error) {
	settings := defaultSettings()
	for _, opt := range options {
		opt(&settings)
	}

	cfg, err := resolveOptions(opts, settings.lookup)
	if err != nil {
		observability.RecordStartFailure("config")
		return nil, err
	}

	logger := settings.logger
	if !settings.hasLogger {
		logger = observability.GetLogger()
	}
	logger = logger.With().Str("component", "avatar").Str("avatar_id", cfg.avatarID).Logger()

	return &Session{
		cfg:      cfg,
		settings: settings,
		logger:   logger,
	}, nil
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects to the avatar service and attaches to agentSession's audio
// output. It returns once the avatar reports ready. Calling Start on an
// active session logs a warning and does nothing.
func (s *Session) Start(ctx context.Context, agentSession agent.Session, room agent.Room, opts StartOptions) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateActive || state == StateClosing {
		s.logger.Warn().Str("state", state.String()).Msg("Avatar session already initialized")
		return nil
	}

	roomName := room.Name()
	ctx, span := observability.StartSpan(ctx, "avatar.Session.Start",
		trace.WithAttributes(attribute.String("room", roomName), attribute.String("avatar_id", s.cfg.avatarID)))
	defer span.End()

	logger := observability.LoggerWithSpan(ctx, s.logger.With().Str("room", roomName).Logger())

	lk, err := resolveStartOptions(opts, s.settings.lookup)
	if err != nil {
		return s.failStart(span, "config", err)
	}

	sampleRate := agentSession.TTSSampleRate()
	if sampleRate <= 0 {
		sampleRate = s.settings.defaultSampleRate
	}

	logger.Info().Msg("Initializing SpatialReal avatar session")
	logger.Debug().
		Str("console_endpoint", s.cfg.consoleEndpoint).
		Str("ingress_endpoint", s.cfg.ingressEndpoint).
		Int("sample_rate", sampleRate).
		Msg("Avatar endpoints")

	desc, err := buildDescriptor(s.cfg, lk, roomName, sampleRate, s.settings.now())
	if err != nil {
		return s.failStart(span, "config", fmt.Errorf("%w: %v", ErrConfig, err))
	}

	conn, err := s.settings.connector(desc)
	if err != nil {
		return s.failStart(span, "connection", &ConnectionError{Op: "connect", Err: err})
	}

	connectStart := time.Now()
	if err := conn.Init(ctx); err != nil {
		s.abandon(conn, logger)
		return s.failStart(span, "connection", &ConnectionError{Op: "init", Err: err})
	}
	if err := conn.Start(ctx); err != nil {
		s.abandon(conn, logger)
		return s.failStart(span, "connection", &ConnectionError{Op: "start", Err: err})
	}
	observability.RecordConnectLatency(time.Since(connectStart))
	logger.Info().Dur("connect_time", time.Since(connectStart)).Msg("SpatialReal avatar session connected")

	sink := s.settings.newSink(sampleRate, s.settings.queueSize)
	if err := sink.Start(ctx); err != nil {
		sink.Close()
		s.abandon(conn, logger)
		return s.failStart(span, "connection", &ConnectionError{Op: "start", Err: err})
	}
	// Only a started sink is handed to the agent
	agentSession.SetAudioOutput(sink)

	forwardCtx, cancelForward := context.WithCancel(context.Background())
	interruptCtx, cancelInterrupts := context.WithCancel(context.Background())
	run := &activation{
		logger:           logger,
		conn:             conn,
		sink:             sink,
		cancelForward:    cancelForward,
		forwarderDone:    make(chan struct{}),
		interruptCtx:     interruptCtx,
		cancelInterrupts: cancelInterrupts,
		closed:           make(chan struct{}),
	}

	s.mu.Lock()
	s.run = run
	s.state = StateActive
	run.metrics = observability.NewSessionMetrics()
	run.unsubscribeClear = sink.OnClearBuffer(func() { s.handleClearBuffer(run) })
	s.mu.Unlock()

	go s.forward(forwardCtx, run)

	logger.Info().Msg("Avatar audio output attached to agent session")

	unsubscribeClose := agentSession.OnClose(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			s.Close(ctx)
		}()
	})

	s.mu.Lock()
	if s.run == run && s.state == StateActive {
		run.unsubscribeClose = unsubscribeClose
		unsubscribeClose = nil
	}
	s.mu.Unlock()
	if unsubscribeClose != nil {
		unsubscribeClose()
	}

	return nil
}

func (s *Session) failStart(span trace.Span, reason string, err error) error {
	observability.RecordStartFailure(reason)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// abandon closes a connection that never became active
func (s *Session) abandon(conn Connection, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Error closing half-open avatar connection")
	}
}

// Close tears the session down: it stops the forwarder, closes the audio
// sink, waits for in-flight interrupts and closes the avatar connection.
// Failures are logged and never stop the remaining steps. Close on a session
// that is not active is a no-op; concurrent callers wait for the first one
// to finish or for ctx to end.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	run := s.run
	switch s.state {
	case StateActive:
		s.state = StateClosing
	case StateClosing:
		s.mu.Unlock()
		if run != nil {
			select {
			case <-run.closed:
			case <-ctx.Done():
			}
		}
		return
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "avatar.Session.Close")
	defer span.End()

	logger := run.logger
	defer close(run.closed)

	if run.unsubscribeClear != nil {
		run.unsubscribeClear()
	}
	s.mu.Lock()
	unsubscribeClose := run.unsubscribeClose
	run.unsubscribeClose = nil
	s.mu.Unlock()
	if unsubscribeClose != nil {
		unsubscribeClose()
	}

	run.cancelForward()
	select {
	case <-run.forwarderDone:
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("Timed out waiting for avatar forwarder")
		observability.RecordCloseError("forwarder")
	}

	if err := run.sink.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing audio sink")
		observability.RecordCloseError("sink")
	}

	interruptsDone := make(chan struct{})
	go func() {
		run.interrupts.Wait()
		close(interruptsDone)
	}()
	select {
	case <-interruptsDone:
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("Timed out waiting for avatar interrupts")
		observability.RecordCloseError("interrupts")
	}
	run.cancelInterrupts()

	if err := run.conn.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Error closing avatar session")
		observability.RecordCloseError("connection")
		span.RecordError(err)
	} else {
		logger.Info().Msg("Avatar session closed")
	}

	run.metrics.End()

	s.mu.Lock()
	s.run = nil
	s.state = StateClosed
	s.mu.Unlock()
}
