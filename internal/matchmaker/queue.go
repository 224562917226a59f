package matchmaker

import (
	"context"
	"strings"

	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/quikchat/quikchat-server/internal/telemetry"
)

// enqueueLocked appends a session to the waiting list. Callers must have
// already removed any previous queue entry; the queue never holds
// duplicates.
func (s *Service) enqueueLocked(ctx context.Context, sess *session) {
	s.queue = append(s.queue, sess.id)
	sess.state = StateQueued
	s.sendLocked(sess, protocol.MustEnvelope(protocol.NoteQueued, nil))

	telemetry.GetMetrics().QueueDepth.Add(ctx, 1)

	s.log.Debug().Str("session_id", sess.id).Int("queue_depth", len(s.queue)).Msg("session queued")
}

// removeFromQueueLocked removes an id from the waiting list if present.
func (s *Service) removeFromQueueLocked(ctx context.Context, id string) bool {
	for i, qid := range s.queue {
		if qid == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			telemetry.GetMetrics().QueueDepth.Add(ctx, -1)
			return true
		}
	}
	return false
}

// pairLocked runs one pairing pass: an exhaustive front-to-back scan that
// pops the two oldest mutually compatible sessions and pairs them, repeating
// until no compatible pair remains. With filters present this is quadratic
// in queue length and promises nothing beyond scan-order fairness; sessions
// with unsatisfiable filters simply stay queued.
func (s *Service) pairLocked(ctx context.Context) {
	for {
		ai, bi := s.findPairLocked()
		if ai < 0 {
			return
		}

		a := s.sessions[s.queue[ai]]
		b := s.sessions[s.queue[bi]]

		// Pop the later index first so the earlier one stays valid.
		s.queue = append(s.queue[:bi], s.queue[bi+1:]...)
		s.queue = append(s.queue[:ai], s.queue[ai+1:]...)

		a.state = StatePaired
		b.state = StatePaired
		a.partnerID = b.id
		b.partnerID = a.id

		s.sendLocked(a, protocol.MustEnvelope(protocol.NotePaired, protocol.Paired{PartnerID: b.id}))
		s.sendLocked(b, protocol.MustEnvelope(protocol.NotePaired, protocol.Paired{PartnerID: a.id}))

		m := telemetry.GetMetrics()
		m.QueueDepth.Add(ctx, -2)
		m.PairsMatchedTotal.Add(ctx, 1)

		s.log.Info().Str("session_id", a.id).Str("partner_id", b.id).Msg("sessions paired")
	}
}

// findPairLocked returns the queue indexes of the oldest mutually compatible
// pair, or (-1, -1) when none exists.
func (s *Service) findPairLocked() (int, int) {
	for i := 0; i < len(s.queue)-1; i++ {
		a := s.sessions[s.queue[i]]
		for j := i + 1; j < len(s.queue); j++ {
			b := s.sessions[s.queue[j]]
			if compatible(a, b) {
				return i, j
			}
		}
	}
	return -1, -1
}

// compatible reports whether two queued sessions accept each other.
// Compatibility is symmetric: each side's filters must accept the other
// side's stated profile. Absent filters accept everyone.
func compatible(a, b *session) bool {
	return filtersAccept(a.filters, b.profile) && filtersAccept(b.filters, a.profile)
}

func filtersAccept(f *protocol.Filters, p *protocol.Profile) bool {
	if f == nil {
		return true
	}
	if f.Gender != "" && (p == nil || !strings.EqualFold(p.Gender, f.Gender)) {
		return false
	}
	if f.Country != "" && (p == nil || !strings.EqualFold(p.Country, f.Country)) {
		return false
	}
	if f.MinAge > 0 && (p == nil || p.Age < f.MinAge) {
		return false
	}
	if f.MaxAge > 0 && (p == nil || p.Age > f.MaxAge) {
		return false
	}
	return true
}
