package matchmaker

import (
	"context"
	"time"

	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/quikchat/quikchat-server/internal/telemetry"
)

// CreateInvite proposes a private session to a specific target and notifies
// it. The proposer may be publicly paired; creating an invite never touches
// existing pairings. At most one unresolved invite may be outstanding per
// ordered (from, to) pair.
func (s *Service) CreateInvite(ctx context.Context, fromID, toID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.sessions[fromID]
	if !ok {
		return "", ErrSessionNotFound
	}
	to, ok := s.sessions[toID]
	if !ok || toID == fromID {
		return "", ErrTargetUnavailable
	}
	if _, exists := s.pending[invitePair{from: fromID, to: toID}]; exists {
		return "", ErrInvitePending
	}

	inv := &invite{
		id:        newCode(),
		from:      fromID,
		to:        toID,
		createdAt: time.Now(),
	}
	s.invites[inv.id] = inv
	s.pending[invitePair{from: fromID, to: toID}] = inv.id

	s.sendLocked(to, protocol.MustEnvelope(protocol.NotePrivateInvite,
		protocol.PrivateInvite{InviteID: inv.id, From: fromID}))

	telemetry.GetMetrics().InvitesCreatedTotal.Add(ctx, 1)

	s.log.Info().
		Str("invite_id", inv.id).
		Str("from", from.id).
		Str("to", to.id).
		Msg("invite created")

	return inv.id, nil
}

// AcceptInvite consumes an invite exactly once and atomically creates the
// private room. Only the invitee may accept. Both parties are first torn out
// of any queue slot or public pairing (displaced partners are notified), so
// a session is never in more than one of queue, invite or room when the
// room comes into existence.
func (s *Service) AcceptInvite(ctx context.Context, inviteID, byID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[inviteID]
	if !ok {
		return ErrInviteNotFound
	}
	if inv.to != byID {
		return ErrNotInvitee
	}

	// Consume the invite before anything else; a failure past this point
	// must not leave it acceptable again.
	s.deleteInviteLocked(inv)

	from, ok := s.sessions[inv.from]
	if !ok {
		return ErrTargetUnavailable
	}
	to, ok := s.sessions[inv.to]
	if !ok {
		return ErrSessionNotFound
	}

	s.detachLocked(ctx, from, "left")
	s.detachLocked(ctx, to, "left")
	s.removeFromQueueLocked(ctx, from.id)
	s.removeFromQueueLocked(ctx, to.id)

	rm := &room{
		id:      newCode(),
		members: [2]string{from.id, to.id},
	}
	s.rooms[rm.id] = rm

	from.state = StatePrivatePaired
	to.state = StatePrivatePaired
	from.partnerID = to.id
	to.partnerID = from.id
	from.roomID = rm.id
	to.roomID = rm.id

	s.sendLocked(from, protocol.MustEnvelope(protocol.NotePairedPrivate,
		protocol.PairedPrivate{PartnerID: to.id, RoomID: rm.id}))
	s.sendLocked(to, protocol.MustEnvelope(protocol.NotePairedPrivate,
		protocol.PairedPrivate{PartnerID: from.id, RoomID: rm.id}))

	m := telemetry.GetMetrics()
	m.InvitesAcceptedTotal.Add(ctx, 1)
	m.RoomsActive.Add(ctx, 1)

	s.log.Info().
		Str("invite_id", inviteID).
		Str("room_id", rm.id).
		Str("from", from.id).
		Str("to", to.id).
		Msg("private room created")

	return nil
}

// RejectInvite deletes an invite and notifies the proposer. Only the
// invitee may reject.
func (s *Service) RejectInvite(ctx context.Context, inviteID, byID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invites[inviteID]
	if !ok {
		return ErrInviteNotFound
	}
	if inv.to != byID {
		return ErrNotInvitee
	}

	s.deleteInviteLocked(inv)
	s.sendLocked(s.sessions[inv.from], protocol.MustEnvelope(protocol.NoteInviteRejected,
		protocol.InviteRejected{InviteID: inviteID}))

	telemetry.GetMetrics().InvitesRejectedTotal.Add(ctx, 1)
	return nil
}

// endRoomLocked destroys the room sess is in and returns the remaining
// member to Idle with a privateRoomEnded notification. The room is deleted
// whole; it never survives with one member.
func (s *Service) endRoomLocked(ctx context.Context, sess *session, reason string) {
	rm, ok := s.rooms[sess.roomID]
	if !ok {
		sess.roomID = ""
		sess.partnerID = ""
		sess.state = StateIdle
		return
	}
	delete(s.rooms, rm.id)

	for _, memberID := range rm.members {
		member, ok := s.sessions[memberID]
		if !ok {
			continue
		}
		member.roomID = ""
		member.partnerID = ""
		member.state = StateIdle
		if memberID != sess.id {
			s.sendLocked(member, protocol.MustEnvelope(protocol.NotePrivateRoomEnded,
				protocol.PrivateRoomEnded{Reason: reason}))
		}
	}

	telemetry.GetMetrics().RoomsActive.Add(ctx, -1)

	s.log.Info().Str("room_id", rm.id).Str("reason", reason).Msg("private room ended")
}

// purgeInvitesLocked removes every invite referencing a disconnecting
// session. Proposers whose invite died with the target are told why.
func (s *Service) purgeInvitesLocked(ctx context.Context, id string) {
	for _, inv := range s.invites {
		switch id {
		case inv.from:
			s.deleteInviteLocked(inv)
		case inv.to:
			s.deleteInviteLocked(inv)
			s.sendLocked(s.sessions[inv.from], protocol.MustEnvelope(protocol.NoteInviteFailed,
				protocol.InviteFailed{InviteID: inv.id, Reason: "disconnected"}))
		}
	}
}

// expireInvites deletes invites older than the TTL and notifies the
// proposers. Called by the background sweeper.
func (s *Service) expireInvites(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inviteTTL <= 0 {
		return
	}

	for _, inv := range s.invites {
		if now.Sub(inv.createdAt) < s.inviteTTL {
			continue
		}
		s.deleteInviteLocked(inv)
		s.sendLocked(s.sessions[inv.from], protocol.MustEnvelope(protocol.NoteInviteFailed,
			protocol.InviteFailed{InviteID: inv.id, Reason: "expired"}))

		telemetry.GetMetrics().InvitesExpiredTotal.Add(ctx, 1)

		s.log.Debug().Str("invite_id", inv.id).Msg("invite expired")
	}
}

func (s *Service) deleteInviteLocked(inv *invite) {
	delete(s.invites, inv.id)
	delete(s.pending, invitePair{from: inv.from, to: inv.to})
}
