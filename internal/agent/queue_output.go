package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/audio"
)

// QueueAudioOutput is an in-process audio output that queues TTS frames for
// a single consumer. It is both the AudioOutput the agent writes to and the
// AudioSink the relay drains.
type QueueAudioOutput struct {
	sampleRate int
	items      chan AudioItem
	playback   chan PlaybackFinishedEvent
	closed     chan struct{}
	closeOnce  sync.Once

	mu             sync.Mutex
	started        bool
	pendingSegment bool
	clearHandlers  map[int]func()
	nextHandlerID  int
}

// NewQueueAudioOutput creates an output that delivers frames at sampleRate.
// capacity bounds the number of queued items.
func NewQueueAudioOutput(sampleRate, capacity int) *QueueAudioOutput {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &QueueAudioOutput{
		sampleRate:    sampleRate,
		items:         make(chan AudioItem, capacity),
		playback:      make(chan PlaybackFinishedEvent, 16),
		closed:        make(chan struct{}),
		clearHandlers: make(map[int]func()),
	}
}

// SampleRate returns the rate frames are delivered at
func (q *QueueAudioOutput) SampleRate() int {
	return q.sampleRate
}

// Start marks the output as ready. Calling it again is a no-op.
func (q *QueueAudioOutput) Start(ctx context.Context) error {
	if q.isClosed() {
		return ErrSinkClosed
	}
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	return nil
}

// CaptureFrame queues a frame, converting it to the output sample rate when
// needed. It blocks while the queue is full.
func (q *QueueAudioOutput) CaptureFrame(ctx context.Context, frame *AudioFrame) error {
	if frame == nil || len(frame.Data) == 0 {
		return nil
	}
	if q.isClosed() {
		return ErrSinkClosed
	}

	out, err := q.normalize(frame)
	if err != nil {
		return err
	}

	if err := q.push(ctx, out); err != nil {
		return err
	}

	q.mu.Lock()
	q.pendingSegment = true
	q.mu.Unlock()
	return nil
}

func (q *QueueAudioOutput) normalize(frame *AudioFrame) (*AudioFrame, error) {
	channels := frame.NumChannels
	if channels <= 0 {
		channels = 1
	}
	rate := frame.SampleRate
	if rate <= 0 {
		rate = q.sampleRate
	}

	data := frame.Data
	if rate != q.sampleRate {
		converted, err := audio.ConvertSampleRate(frame.Data, rate, q.sampleRate, channels)
		if err != nil {
			return nil, fmt.Errorf("failed to resample frame from %d Hz: %w", rate, err)
		}
		data = converted
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        q.sampleRate,
		NumChannels:       channels,
		SamplesPerChannel: len(data) / (audio.BytesPerSample * channels),
	}, nil
}

// Flush ends the current segment. Without frames since the last flush it
// does nothing.
func (q *QueueAudioOutput) Flush() error {
	q.mu.Lock()
	pending := q.pendingSegment
	q.pendingSegment = false
	q.mu.Unlock()

	if !pending {
		return nil
	}
	return q.push(context.Background(), SegmentEnd{})
}

// ClearBuffer drops everything still queued and notifies clear-buffer
// handlers.
func (q *QueueAudioOutput) ClearBuffer() {
drain:
	for {
		select {
		case <-q.items:
		default:
			break drain
		}
	}

	q.mu.Lock()
	q.pendingSegment = false
	handlers := make([]func(), 0, len(q.clearHandlers))
	for _, fn := range q.clearHandlers {
		handlers = append(handlers, fn)
	}
	q.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// WaitForPlayout blocks until the consumer reports a finished segment
func (q *QueueAudioOutput) WaitForPlayout(ctx context.Context) (PlaybackFinishedEvent, error) {
	select {
	case ev := <-q.playback:
		return ev, nil
	case <-ctx.Done():
		return PlaybackFinishedEvent{}, ctx.Err()
	case <-q.closed:
		return PlaybackFinishedEvent{}, ErrSinkClosed
	}
}

// Next returns the next queued item in capture order
func (q *QueueAudioOutput) Next(ctx context.Context) (AudioItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		return nil, ErrSinkClosed
	}
}

// NotifyPlaybackFinished reports a played-out segment to WaitForPlayout.
// Events nobody waits for are dropped once the backlog is full.
func (q *QueueAudioOutput) NotifyPlaybackFinished(position time.Duration, interrupted bool) {
	select {
	case q.playback <- PlaybackFinishedEvent{PlaybackPosition: position, Interrupted: interrupted}:
	default:
	}
}

// OnClearBuffer registers fn to run on every ClearBuffer call
func (q *QueueAudioOutput) OnClearBuffer(fn func()) func() {
	q.mu.Lock()
	id := q.nextHandlerID
	q.nextHandlerID++
	q.clearHandlers[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.clearHandlers, id)
		q.mu.Unlock()
	}
}

// Close stops the output. Blocked producers and consumers return
// ErrSinkClosed. Close is idempotent.
func (q *QueueAudioOutput) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
		q.mu.Lock()
		q.clearHandlers = make(map[int]func())
		q.started = false
		q.mu.Unlock()
	})
	return nil
}

func (q *QueueAudioOutput) push(ctx context.Context, item AudioItem) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrSinkClosed
	}
}

func (q *QueueAudioOutput) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

var (
	_ AudioSink   = (*QueueAudioOutput)(nil)
	_ AudioOutput = (*QueueAudioOutput)(nil)
	_ Session     = (*LocalSession)(nil)
)
