package avatar

import "github.com/spatialwalk/livekit-plugins-spatialreal/internal/observability"

// handleClearBuffer runs on the agent's clear-buffer event. The interrupt
// goes out on its own goroutine so the caller never waits on the network.
// Overlapping interrupts are not coalesced.
func (s *Session) handleClearBuffer(run *activation) {
	s.mu.Lock()
	if s.state != StateActive || s.run != run {
		s.mu.Unlock()
		return
	}
	run.interrupts.Add(1)
	s.mu.Unlock()

	go func() {
		defer run.interrupts.Done()

		requestID, err := run.conn.Interrupt(run.interruptCtx)
		if err != nil {
			run.logger.Warn().Err(err).Msg("Failed to interrupt avatar")
			observability.RecordInterrupt(false)
			return
		}
		run.logger.Debug().Str("request_id", requestID).Msg("Avatar interrupted")
		observability.RecordInterrupt(true)
	}()
}
