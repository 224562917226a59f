// Package matchmaker implements the pairing core: the session registry, the
// public FIFO queue, the private invite handshake and rooms, and the opaque
// relay. All state is process-local and owned by a single Service so a
// restart simply drops every session back to reconnect-from-scratch.
package matchmaker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/quikchat/quikchat-server/internal/telemetry"
	"github.com/rs/zerolog"
)

// Sender delivers a notification to one connected client. Implementations
// must not block; a slow consumer is the transport's problem, not the
// matchmaker's.
type Sender interface {
	Send(env *protocol.Envelope) error
}

// State is the lifecycle state of a session.
type State string

const (
	StateIdle          State = "idle"
	StateQueued        State = "queued"
	StatePaired        State = "paired"
	StatePrivatePaired State = "privatePaired"
)

// session is one connected client. Owned exclusively by the Service; the
// queue, invite table and room table hold only id strings into it.
type session struct {
	id        string
	state     State
	partnerID string
	roomID    string
	profile   *protocol.Profile
	filters   *protocol.Filters
	sender    Sender
}

// invite is an outstanding private-session proposal.
type invite struct {
	id        string
	from      string
	to        string
	createdAt time.Time
}

// invitePair keys the at-most-one-unresolved-invite-per-ordered-pair rule.
type invitePair struct {
	from string
	to   string
}

// room is an established 1:1 private session. Always exactly two members
// while it exists; it is deleted, never shrunk.
type room struct {
	id      string
	members [2]string
}

// Service owns all matchmaking state. Every public operation is a single
// critical section behind one mutex, which is what makes pairing passes,
// invite accepts and disconnect purges atomic with respect to each other.
type Service struct {
	log       zerolog.Logger
	inviteTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	queue    []string
	invites  map[string]*invite
	pending  map[invitePair]string
	rooms    map[string]*room

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
}

// New creates a matchmaking service. inviteTTL bounds how long an
// unanswered invite may stay outstanding; zero disables expiry.
func New(log zerolog.Logger, inviteTTL time.Duration) *Service {
	return &Service{
		log:       log.With().Str("component", "matchmaker").Logger(),
		inviteTTL: inviteTTL,
		sessions:  make(map[string]*session),
		invites:   make(map[string]*invite),
		pending:   make(map[invitePair]string),
		rooms:     make(map[string]*room),
		stopSweep: make(chan struct{}),
	}
}

// Start begins the background invite sweeper.
func (s *Service) Start() error {
	if s.inviteTTL <= 0 {
		return nil
	}
	s.sweepTicker = time.NewTicker(s.inviteTTL / 2)
	go s.sweepLoop()
	return nil
}

// Stop terminates background operations.
func (s *Service) Stop() error {
	if s.sweepTicker != nil {
		s.sweepTicker.Stop()
	}
	close(s.stopSweep)
	return nil
}

func (s *Service) sweepLoop() {
	for {
		select {
		case <-s.sweepTicker.C:
			s.expireInvites(context.Background(), time.Now())
		case <-s.stopSweep:
			return
		}
	}
}

// Connect registers a new session and returns its server-assigned id. The
// id is stable for the connection's lifetime and never reused.
func (s *Service) Connect(ctx context.Context, sender Sender) string {
	id := uuid.Must(uuid.NewV7()).String()

	s.mu.Lock()
	s.sessions[id] = &session{
		id:     id,
		state:  StateIdle,
		sender: sender,
	}
	s.sendLocked(s.sessions[id], protocol.MustEnvelope(protocol.NoteWelcome, protocol.Welcome{ID: id}))
	s.mu.Unlock()

	m := telemetry.GetMetrics()
	m.SessionsActive.Add(ctx, 1)
	m.SessionsTotal.Add(ctx, 1)

	s.log.Info().Str("session_id", id).Msg("session connected")
	return id
}

// Disconnect purges the session id from the queue, every invite and every
// room, notifying any partner. Idempotent: disconnecting an unknown id is a
// no-op.
func (s *Service) Disconnect(ctx context.Context, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	s.removeFromQueueLocked(ctx, id)
	s.purgeInvitesLocked(ctx, id)

	if sess.roomID != "" {
		s.endRoomLocked(ctx, sess, "peerDisconnected")
	} else if sess.partnerID != "" {
		s.unpairLocked(ctx, sess,
			protocol.MustEnvelope(protocol.NotePeerDisconnected, protocol.PeerDisconnected{ID: id}))
	}

	delete(s.sessions, id)
	s.mu.Unlock()

	m := telemetry.GetMetrics()
	m.SessionsActive.Add(ctx, -1)
	m.DisconnectsTotal.Add(ctx, 1)

	s.log.Info().Str("session_id", id).Msg("session disconnected")
}

// JoinQueue adds a session to the public waiting list and runs a pairing
// pass. A session already waiting gets ErrAlreadyQueued. A paired session
// leaves its current pairing first, exactly as if it had skipped.
func (s *Service) JoinQueue(ctx context.Context, id string, profile *protocol.Profile, filters *protocol.Filters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.state == StateQueued {
		return ErrAlreadyQueued
	}

	s.detachLocked(ctx, sess, "left")

	sess.profile = profile
	sess.filters = filters
	s.enqueueLocked(ctx, sess)
	s.pairLocked(ctx)
	return nil
}

// LeaveQueue removes a session from the waiting list. Not an error if the
// session is not queued.
func (s *Service) LeaveQueue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.removeFromQueueLocked(ctx, id) {
		sess.state = StateIdle
		sess.filters = nil
	}
	return nil
}

// Next leaves the current pairing or room, notifies the partner, and
// re-joins the queue with the filters from the last joinQueue.
func (s *Service) Next(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	s.detachLocked(ctx, sess, "left")
	s.removeFromQueueLocked(ctx, id)
	s.enqueueLocked(ctx, sess)
	s.pairLocked(ctx)
	return nil
}

// Leave detaches a session from whatever it is in (queue, pairing or room)
// without re-queueing it.
func (s *Service) Leave(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}

	s.detachLocked(ctx, sess, "left")
	if s.removeFromQueueLocked(ctx, id) {
		sess.filters = nil
	}
	sess.state = StateIdle
	return nil
}

// sendLocked forwards a notification, swallowing transport errors. The
// session being mid-teardown is an expected race.
func (s *Service) sendLocked(sess *session, env *protocol.Envelope) {
	if sess == nil || sess.sender == nil {
		return
	}
	if err := sess.sender.Send(env); err != nil {
		s.log.Debug().Err(err).Str("session_id", sess.id).Str("type", env.Type).Msg("notification dropped")
	}
}

// detachLocked tears a session out of any public pairing or private room,
// notifying the displaced partner. Queue membership is untouched.
func (s *Service) detachLocked(ctx context.Context, sess *session, reason string) {
	if sess.roomID != "" {
		s.endRoomLocked(ctx, sess, reason)
		return
	}
	if sess.partnerID != "" {
		s.unpairLocked(ctx, sess, protocol.MustEnvelope(protocol.NotePartnerLeft, nil))
	}
}

// unpairLocked dissolves a public pairing, sending note to the partner.
func (s *Service) unpairLocked(ctx context.Context, sess *session, note *protocol.Envelope) {
	partner, ok := s.sessions[sess.partnerID]
	if ok {
		partner.partnerID = ""
		partner.state = StateIdle
		s.sendLocked(partner, note)
	}
	sess.partnerID = ""
	sess.state = StateIdle

	telemetry.GetMetrics().PairsEndedTotal.Add(ctx, 1)
}

// newCode generates a short opaque handle for invites and rooms.
func newCode() string {
	id := uuid.Must(uuid.NewV7())
	return base58.Encode(id[:])
}
