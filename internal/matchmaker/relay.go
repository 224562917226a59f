package matchmaker

import (
	"context"

	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/quikchat/quikchat-server/internal/telemetry"
)

// Relay forwards an opaque envelope to the destination session. The payload
// is never interpreted beyond routing. A missing destination is an expected
// race with disconnect, not an error: the envelope is silently dropped and
// the caller is never told.
func (s *Service) Relay(ctx context.Context, fromID, toID string, env *protocol.Envelope) {
	s.mu.Lock()
	dest, ok := s.sessions[toID]
	if ok {
		s.sendLocked(dest, env)
	}
	s.mu.Unlock()

	m := telemetry.GetMetrics()
	if !ok {
		m.RelayDroppedTotal.Add(ctx, 1)
		s.log.Debug().
			Str("from", fromID).
			Str("to", toID).
			Str("type", env.Type).
			Msg("relay destination gone, payload dropped")
		return
	}
	m.RelayForwardedTotal.Add(ctx, 1)
}

// Report forwards a moderation report to the target as a warning. There is
// no enforcement here; like relay, a missing target is a silent drop.
func (s *Service) Report(ctx context.Context, fromID, targetID string) {
	s.Relay(ctx, fromID, targetID,
		protocol.MustEnvelope(protocol.NoteWarned, protocol.Warned{By: fromID}))
}
