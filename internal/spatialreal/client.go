// Package spatialreal is a client for the SpatialReal avatar service. A
// session token is requested from the console over HTTP, then audio is
// streamed to the ingress endpoint over a websocket.
//
// The wire format here is assumed, not taken from published SpatialReal
// documentation: the POST to /session-tokens on the console, the
// session.start / session.ready JSON envelope on the ingress websocket and
// the one-byte flag header in front of each binary audio frame. Check it
// against the service before pointing the default endpoints at production.
package spatialreal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/resilience"
)

var (
	// ErrNotStarted is returned when an operation needs Init/Start first
	ErrNotStarted = errors.New("avatar session not started")
	// ErrClosed is returned by operations on a closed client
	ErrClosed = errors.New("avatar session closed")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	sessionTokenPath        = "/session-tokens"
)

// Config holds everything needed to open one avatar session
type Config struct {
	APIKey          string
	AppID           string
	AvatarID        string
	ConsoleEndpoint string
	IngressEndpoint string
	ExpireAt        time.Time
	SampleRate      int
	Egress          *LiveKitEgress

	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	Retry            *resilience.RetryConfig
	Breaker          *resilience.CircuitBreaker // guards the console token request; nil disables
	HandshakeTimeout time.Duration
	Logger           *zerolog.Logger
}

// Client is one avatar session. It is safe for concurrent use; writes to
// the websocket are serialized.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	sessionToken string
	sessionID    string
	initialized  bool
	started      bool
	closed       bool
	readDone     chan struct{}
}

// NewClient creates a client. No network activity happens until Init.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	logger := observability.GetLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "spatialreal").Str("avatar_id", cfg.AvatarID).Logger(),
	}
}

// SessionID returns the console-assigned session id once Init succeeded
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Init requests a session token from the console
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var resp *SessionTokenResponse
	request := func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.requestSessionToken(ctx)
			return err
		}, c.cfg.Retry, resilience.IsRetryableNetworkError)
	}

	var err error
	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Call(request)
	} else {
		err = request()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn().Str("breaker", c.cfg.Breaker.Name()).Msg("Console circuit open, not requesting a session token")
	}
	if err != nil {
		return fmt.Errorf("failed to create avatar session: %w", err)
	}

	c.mu.Lock()
	c.sessionToken = resp.SessionToken
	c.sessionID = resp.SessionID
	c.initialized = true
	c.mu.Unlock()

	c.logger.Debug().Str("session_id", resp.SessionID).Msg("Avatar session token issued")
	return nil
}

func (c *Client) requestSessionToken(ctx context.Context) (*SessionTokenResponse, error) {
	body, err := json.Marshal(SessionTokenRequest{
		AppID:    c.cfg.AppID,
		AvatarID: c.cfg.AvatarID,
		ExpireAt: c.cfg.ExpireAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.ConsoleEndpoint, "/") + sessionTokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-App-Id", c.cfg.AppID)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("console returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, resilience.NewRetryableError(statusErr)
		}
		return nil, statusErr
	}

	var out SessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode session token: %w", err)
	}
	if out.SessionToken == "" {
		return nil, errors.New("console returned an empty session token")
	}
	return &out, nil
}

// Start opens the ingress websocket and waits until the service reports the
// session ready
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	token := c.sessionToken
	sessionID := c.sessionID
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.IngressEndpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to ingress (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect to ingress: %w", err)
	}

	start := ControlMessage{
		Type:      MessageSessionStart,
		SessionID: sessionID,
		AvatarID:  c.cfg.AvatarID,
		Audio: &AudioFormat{
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
			Channels:   1,
		},
	}
	if c.cfg.Egress != nil {
		start.Egress = &EgressConfig{LiveKit: c.cfg.Egress}
	}

	if err := c.handshake(ctx, conn, start); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.started = true
	c.readDone = make(chan struct{})
	readDone := c.readDone
	c.mu.Unlock()

	go c.readLoop(conn, readDone)

	c.logger.Info().Str("session_id", sessionID).Msg("Avatar ingress connected")
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, start ControlMessage) error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(start); err != nil {
		return fmt.Errorf("failed to send %s: %w", MessageSessionStart, err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed waiting for %s: %w", MessageSessionReady, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to parse handshake message: %w", err)
		}

		switch msg.Type {
		case MessageSessionReady:
			return nil
		case MessageError:
			if msg.Error != nil {
				return fmt.Errorf("avatar service rejected session: %s: %s", msg.Error.Code, msg.Error.Message)
			}
			return errors.New("avatar service rejected session")
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
				c.logger.Warn().Err(err).Msg("Avatar ingress read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse avatar message")
			continue
		}

		switch msg.Type {
		case MessageInterrupted:
			c.logger.Debug().Str("request_id", msg.RequestID).Msg("Avatar acknowledged interrupt")
		case MessageError:
			event := c.logger.Error()
			if msg.Error != nil {
				event = event.Str("code", msg.Error.Code).Str("message", msg.Error.Message)
			}
			event.Msg("Avatar service error")
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Avatar message")
		}
	}
}

// SendAudio streams one chunk of PCM. end marks the last chunk of a segment.
func (c *Client) SendAudio(ctx context.Context, pcm []byte, end bool) error {
	return c.write(ctx, websocket.BinaryMessage, EncodeAudioFrame(pcm, end))
}

// Interrupt asks the avatar to stop the current segment and returns the
// request id
func (c *Client) Interrupt(ctx context.Context) (string, error) {
	requestID := uuid.New().String()
	data, err := json.Marshal(ControlMessage{Type: MessageInterrupt, RequestID: requestID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	if err := c.write(ctx, websocket.TextMessage, data); err != nil {
		return "", err
	}
	return requestID, nil
}

func (c *Client) write(ctx context.Context, messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if !c.started || c.conn == nil {
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to ingress: %w", err)
	}
	return nil
}

// Close ends the session. Calling it more than once is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	readDone := c.readDone
	sessionID := c.sessionID
	c.conn = nil
	c.started = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	var errs []error
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// No other writer can hold conn now that closed is set.
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(ControlMessage{Type: MessageSessionStop, SessionID: sessionID}); err != nil {
		errs = append(errs, fmt.Errorf("failed to send %s: %w", MessageSessionStop, err))
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		errs = append(errs, fmt.Errorf("failed to send close frame: %w", err))
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, err)
	}

	if readDone != nil {
		select {
		case <-readDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	c.logger.Info().Str("session_id", sessionID).Msg("Avatar session closed")
	return errors.Join(errs...)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
