package avatar

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/agent"
	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"
)

// forward drains the sink into the avatar connection until ctx is cancelled
// or the sink is closed. A failed send drops that item and the loop goes on.
func (s *Session) forward(ctx context.Context, run *activation) {
	defer close(run.forwarderDone)

	logger := run.logger
	frameCount := 0

	for {
		item, err := run.sink.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logger.Debug().Msg("Avatar forwarder cancelled")
			case errors.Is(err, agent.ErrSinkClosed):
				logger.Debug().Msg("Audio sink closed, avatar forwarder stopping")
			default:
				logger.Error().Err(err).Msg("Error reading audio for avatar")
			}
			return
		}

		switch it := item.(type) {
		case *agent.AudioFrame:
			frameCount++
			if frameCount == 1 {
				logger.Debug().Int("sample_rate", it.SampleRate).Msg("Avatar: first audio frame received")
			}
			if s.send(ctx, run, it.Data, false, logger) {
				observability.RecordFrameForwarded(len(it.Data))
			}

		case agent.SegmentEnd:
			logger.Debug().Int("frames", frameCount).Msg("Avatar: segment end")
			if s.send(ctx, run, nil, true, logger) {
				observability.RecordSegmentForwarded()
			}
			run.sink.NotifyPlaybackFinished(0, false)
			frameCount = 0
		}
	}
}

// send hands one chunk to the connection. It reports whether the chunk was
// delivered. Every item is offered to the connection on its own; a failure
// drops only that item.
func (s *Session) send(ctx context.Context, run *activation, data []byte, end bool, logger zerolog.Logger) bool {
	if !s.isActive(run) {
		logger.Debug().Bool("end", end).Int("bytes", len(data)).Msg("Avatar session not active, dropping audio")
		observability.RecordFrameDropped("inactive")
		return false
	}

	err := run.conn.SendAudio(ctx, data, end)
	if err != nil && ctx.Err() != nil {
		logger.Debug().Bool("end", end).Msg("Audio send cancelled")
		observability.RecordFrameDropped("cancelled")
		return false
	}
	if err != nil {
		logger.Error().Err(err).Bool("end", end).Int("bytes", len(data)).Msg("Failed to send audio to avatar")
		observability.RecordFrameDropped("send_error")
		return false
	}
	return true
}

func (s *Session) isActive(run *activation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && s.run == run
}
