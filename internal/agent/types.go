// Package agent defines what the relay needs from a voice-agent runtime:
// the TTS audio items it emits, the sink they are written to, and the
// session and room it runs in.
package agent

import (
	"context"
	"errors"
	"time"
)

// DefaultSampleRate is used when the agent session has no TTS configured
const DefaultSampleRate = 24000

// ErrSinkClosed is returned by sink operations after Close
var ErrSinkClosed = errors.New("audio sink is closed")

// AudioItem is either an *AudioFrame or a SegmentEnd
type AudioItem interface {
	isAudioItem()
}

// AudioFrame is one chunk of signed 16-bit little-endian PCM
type AudioFrame struct {
	Data              []byte
	SampleRate        int
	NumChannels       int
	SamplesPerChannel int
}

func (*AudioFrame) isAudioItem() {}

// SegmentEnd marks the end of one TTS segment. Every frame captured before
// it belongs to that segment.
type SegmentEnd struct{}

func (SegmentEnd) isAudioItem() {}

// PlaybackFinishedEvent tells the agent a segment has been played out
type PlaybackFinishedEvent struct {
	PlaybackPosition time.Duration
	Interrupted      bool
}

// AudioSink is the consumer side of the agent's audio output
type AudioSink interface {
	Start(ctx context.Context) error
	// Next blocks until an item is available. It returns ctx.Err() when ctx
	// is done and ErrSinkClosed once the sink is closed.
	Next(ctx context.Context) (AudioItem, error)
	NotifyPlaybackFinished(position time.Duration, interrupted bool)
	// OnClearBuffer registers fn for barge-in events. fn runs on the
	// caller's goroutine and must not block.
	OnClearBuffer(fn func()) (unsubscribe func())
	Close() error
}

// AudioOutput is the producer side the agent's TTS pipeline writes to
type AudioOutput interface {
	SampleRate() int
	CaptureFrame(ctx context.Context, frame *AudioFrame) error
	Flush() error
	ClearBuffer()
	WaitForPlayout(ctx context.Context) (PlaybackFinishedEvent, error)
}

// Session is the hosting agent session
type Session interface {
	// TTSSampleRate returns the TTS output rate, or 0 when no TTS is set
	TTSSampleRate() int
	SetAudioOutput(out AudioOutput)
	// OnClose registers fn to run once when the session closes
	OnClose(fn func()) (unsubscribe func())
}

// Room is the real-time room the agent is connected to
type Room interface {
	Name() string
}

// RoomName is a Room known only by its name
type RoomName string

// Name returns the room name
func (r RoomName) Name() string { return string(r) }
