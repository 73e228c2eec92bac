// Package bridge exposes an avatar relay session over a websocket so an
// agent runtime running in another process can stream its TTS audio in.
//
// Protocol: the agent sends a JSON start event, then binary PCM16 frames at
// the announced sample rate and JSON segment_end / clear_buffer / stop
// events. The bridge answers with started, playback_finished and error
// events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/agent"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/avatar"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/config"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
)

const (
	startTimeout = 10 * time.Second
	closeTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Events exchanged with the agent runtime
const (
	EventStart            = "start"
	EventStarted          = "started"
	EventSegmentEnd       = "segment_end"
	EventClearBuffer      = "clear_buffer"
	EventStop             = "stop"
	EventPlaybackFinished = "playback_finished"
	EventError            = "error"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Agents connect from inside the cluster
		return true
	},
	ReadBufferSize:  8192,
	WriteBufferSize: 4096,
}

// AgentMessage is a JSON event on the agent websocket
type AgentMessage struct {
	Event            string `json:"event"`
	Room             string `json:"room,omitempty"`
	SampleRate       int    `json:"sample_rate,omitempty"`
	LiveKitURL       string `json:"livekit_url,omitempty"`
	LiveKitAPIKey    string `json:"livekit_api_key,omitempty"`
	LiveKitAPISecret string `json:"livekit_api_secret,omitempty"`
	Message          string `json:"message,omitempty"`
}

// PlaybackFinishedMessage tells the agent a segment finished playing
type PlaybackFinishedMessage struct {
	Event       string  `json:"event"`
	Position    float64 `json:"position"` // seconds
	Interrupted bool    `json:"interrupted"`
}

// Handler accepts agent websocket connections and runs one avatar session
// per connection
type Handler struct {
	opts              avatar.Options
	startDefaults     avatar.StartOptions
	avatarOptions     []avatar.Option
	defaultSampleRate int
}

// NewHandler creates a handler using cfg for avatar credentials. extra is
// applied after the options derived from cfg.
func NewHandler(cfg *config.Config, extra ...avatar.Option) *Handler {
	opts, start, avatarOptions := avatar.OptionsFromConfig(cfg)
	return &Handler{
		opts:              opts,
		startDefaults:     start,
		avatarOptions:     append(avatarOptions, extra...),
		defaultSampleRate: cfg.DefaultSampleRate,
	}
}

// StreamSession is one connected agent
type StreamSession struct {
	conn          *websocket.Conn
	correlationID string
	logger        zerolog.Logger

	writeMu sync.Mutex

	room         string
	agentSession *agent.LocalSession
	avatar       *avatar.Session
	output       agent.AudioOutput
	sampleRate   int
}

// ServeHTTP upgrades the request and relays the agent's audio until the
// agent stops or disconnects
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := observability.GetLogger()
		logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	correlationID := observability.NewCorrelationID()
	s := &StreamSession{
		conn:          conn,
		correlationID: correlationID,
		logger:        observability.WithCorrelationID(correlationID).With().Str("component", "bridge").Logger(),
	}

	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Agent connected")

	if err := h.start(r.Context(), s); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start avatar session")
		s.sendJSON(AgentMessage{Event: EventError, Message: err.Error()})
		s.closeSocket(websocket.CloseInternalServerErr, "avatar session failed")
		return
	}
	defer s.teardown()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.relayPlayback(ctx)

	s.processIncomingMessages(ctx)
	s.closeSocket(websocket.CloseNormalClosure, "stream ended")
}

func (h *Handler) start(ctx context.Context, s *StreamSession) error {
	s.conn.SetReadDeadline(time.Now().Add(startTimeout))
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read start event: %w", err)
	}
	s.conn.SetReadDeadline(time.Time{})

	if msgType != websocket.TextMessage {
		return errors.New("expected start event before audio")
	}
	var msg AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse start event: %w", err)
	}
	if msg.Event != EventStart {
		return fmt.Errorf("expected %q event, got %q", EventStart, msg.Event)
	}
	if msg.Room == "" {
		return errors.New("start event is missing room")
	}

	sampleRate := msg.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.defaultSampleRate
	}

	s.room = msg.Room
	s.sampleRate = sampleRate
	s.logger = s.logger.With().Str("room", msg.Room).Logger()

	options := make([]avatar.Option, 0, len(h.avatarOptions)+1)
	options = append(options, h.avatarOptions...)
	options = append(options, avatar.WithLogger(observability.WithCorrelationID(s.correlationID)))

	av, err := avatar.New(h.opts, options...)
	if err != nil {
		return err
	}

	startOpts := h.startDefaults
	if msg.LiveKitURL != "" {
		startOpts.LiveKitURL = msg.LiveKitURL
	}
	if msg.LiveKitAPIKey != "" {
		startOpts.LiveKitAPIKey = msg.LiveKitAPIKey
	}
	if msg.LiveKitAPISecret != "" {
		startOpts.LiveKitAPISecret = msg.LiveKitAPISecret
	}

	agentSession := agent.NewLocalSession(sampleRate)
	startCtx, cancel := context.WithTimeout(ctx, startTimeout*3)
	defer cancel()
	if err := av.Start(startCtx, agentSession, agent.RoomName(msg.Room), startOpts); err != nil {
		return err
	}

	s.agentSession = agentSession
	s.avatar = av
	s.output = agentSession.AudioOutput()

	s.logger.Info().Int("sample_rate", sampleRate).Msg("Avatar relay started")
	return s.sendJSON(AgentMessage{Event: EventStarted, SampleRate: s.output.SampleRate()})
}

// processIncomingMessages handles audio and control events until the agent
// stops or the socket fails
func (s *StreamSession) processIncomingMessages(ctx context.Context) {
	frames := 0
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			frame := &agent.AudioFrame{Data: data, SampleRate: s.sampleRate, NumChannels: 1}
			if err := s.output.CaptureFrame(ctx, frame); err != nil {
				s.logger.Error().Err(err).Msg("Failed to queue audio frame")
				if errors.Is(err, agent.ErrSinkClosed) || ctx.Err() != nil {
					return
				}
				continue
			}
			frames++
			continue
		}

		var msg AgentMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse agent message")
			continue
		}

		switch msg.Event {
		case EventSegmentEnd:
			s.logger.Debug().Int("frames", frames).Msg("Segment end from agent")
			frames = 0
			if err := s.output.Flush(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to end segment")
			}

		case EventClearBuffer:
			s.logger.Info().Msg("Agent cleared audio buffer")
			frames = 0
			s.output.ClearBuffer()

		case EventStop:
			s.logger.Info().Msg("Agent stopped stream")
			return

		default:
			s.logger.Warn().Str("event", msg.Event).Msg("Unknown agent event")
		}
	}
}

// relayPlayback forwards playback-finished notifications to the agent
func (s *StreamSession) relayPlayback(ctx context.Context) {
	for {
		ev, err := s.output.WaitForPlayout(ctx)
		if err != nil {
			return
		}
		msg := PlaybackFinishedMessage{
			Event:       EventPlaybackFinished,
			Position:    ev.PlaybackPosition.Seconds(),
			Interrupted: ev.Interrupted,
		}
		if err := s.sendJSON(msg); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send playback finished")
			return
		}
	}
}

// teardown closes the agent session, which in turn closes the avatar
// session, and waits for the avatar side to finish
func (s *StreamSession) teardown() {
	s.agentSession.Close()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	s.avatar.Close(ctx)

	s.logger.Info().Msg("Agent stream closed")
}

func (s *StreamSession) sendJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *StreamSession) closeSocket(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}
