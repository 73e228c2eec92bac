package spatialreal

// Message types exchanged on the ingress websocket. The envelope and the
// audio flag byte below are this client's assumed protocol (see the package
// doc).
const (
	MessageSessionStart = "session.start"
	MessageSessionReady = "session.ready"
	MessageSessionStop  = "session.stop"
	MessageInterrupt    = "interrupt"
	MessageInterrupted  = "interrupted"
	MessageError        = "error"
)

// Binary audio frames carry one flag byte ahead of the PCM payload
const (
	audioFlagNone       byte = 0x00
	audioFlagEndSegment byte = 0x01
)

// SessionTokenRequest is posted to the console to open an avatar session
type SessionTokenRequest struct {
	AppID    string `json:"app_id"`
	AvatarID string `json:"avatar_id"`
	ExpireAt int64  `json:"expire_at"` // unix seconds
}

// SessionTokenResponse is the console's answer to SessionTokenRequest
type SessionTokenResponse struct {
	SessionToken string `json:"session_token"`
	SessionID    string `json:"session_id"`
	ExpireAt     int64  `json:"expire_at,omitempty"`
}

// LiveKitEgress tells the avatar service how to join the LiveKit room
type LiveKitEgress struct {
	URL         string `json:"url"`
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	RoomName    string `json:"room_name"`
	PublisherID string `json:"publisher_id"`
	Token       string `json:"token,omitempty"`
}

// AudioFormat describes the PCM the client streams
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// ControlMessage is the JSON envelope for every non-audio message
type ControlMessage struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	AvatarID  string        `json:"avatar_id,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Audio     *AudioFormat  `json:"audio,omitempty"`
	Egress    *EgressConfig `json:"egress,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
}

// EgressConfig selects where the rendered stream goes
type EgressConfig struct {
	LiveKit *LiveKitEgress `json:"livekit,omitempty"`
}

// ErrorPayload is sent by the service when something goes wrong
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeAudioFrame prefixes pcm with the segment flag byte
func EncodeAudioFrame(pcm []byte, end bool) []byte {
	frame := make([]byte, 1+len(pcm))
	frame[0] = audioFlagNone
	if end {
		frame[0] = audioFlagEndSegment
	}
	copy(frame[1:], pcm)
	return frame
}

// DecodeAudioFrame splits a binary frame into payload and end flag
func DecodeAudioFrame(frame []byte) (pcm []byte, end bool, ok bool) {
	if len(frame) == 0 {
		return nil, false, false
	}
	return frame[1:], frame[0]&audioFlagEndSegment != 0, true
}
