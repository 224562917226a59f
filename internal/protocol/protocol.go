// Package protocol defines the JSON wire format spoken over the websocket:
// a tagged envelope with one typed payload per message type. Command
// constants cover client-to-server traffic, note constants the
// server-to-client notifications.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Commands accepted from clients.
const (
	CmdJoinQueue     = "joinQueue"
	CmdLeaveQueue    = "leaveQueue"
	CmdNext          = "next"
	CmdLeave         = "leave"
	CmdInvitePrivate = "invitePrivate"
	CmdAcceptInvite  = "acceptInvite"
	CmdRejectInvite  = "rejectInvite"
	CmdSignal        = "signal"
	CmdChatMessage   = "chat-message"
	CmdFileMessage   = "file-message"
	CmdReportUser    = "reportUser"
)

// Notifications sent to clients.
const (
	NoteWelcome          = "welcome"
	NoteQueued           = "queued"
	NotePaired           = "paired"
	NotePairedPrivate    = "pairedPrivate"
	NotePrivateInvite    = "privateInvite"
	NoteInviteRejected   = "inviteRejected"
	NoteInviteFailed     = "inviteFailed"
	NoteSignal           = "signal"
	NoteChatMessage      = "chat-message"
	NoteFileMessage      = "file-message"
	NotePartnerLeft      = "partnerLeft"
	NotePeerDisconnected = "peerDisconnected"
	NotePrivateRoomEnded = "privateRoomEnded"
	NoteWarned           = "warned"
	NoteError            = "error"
)

// Envelope is the framing for every message in both directions. Data holds
// the raw payload so unknown types still parse and can be ignored.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload. A nil payload produces a bare envelope.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	env.Data = data
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads built from static structs, where
// marshalling cannot fail.
func MustEnvelope(msgType string, payload any) *Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the payload into out. An envelope without a payload is
// an error; callers expecting optional payloads check Data first.
func (e *Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope carries no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Profile is the self-declared identity attached when joining the queue.
type Profile struct {
	Gender  string `json:"gender,omitempty"`
	Country string `json:"country,omitempty"`
	Age     int    `json:"age,omitempty"`
}

// Filters narrow which profiles a queued session will be paired with.
// Zero-valued fields match anything.
type Filters struct {
	Gender  string `json:"gender,omitempty"`
	Country string `json:"country,omitempty"`
	MinAge  int    `json:"minAge,omitempty"`
	MaxAge  int    `json:"maxAge,omitempty"`
}

// JoinQueue is the joinQueue payload. Both fields are optional.
type JoinQueue struct {
	Profile *Profile `json:"profile,omitempty"`
	Filters *Filters `json:"filters,omitempty"`
}

// InvitePrivate asks the server to offer a private room to another session.
type InvitePrivate struct {
	To string `json:"to"`
}

// AcceptInvite consumes a pending invite.
type AcceptInvite struct {
	InviteID string `json:"inviteId"`
}

// RejectInvite declines a pending invite.
type RejectInvite struct {
	InviteID string `json:"inviteId"`
}

// Signal carries a WebRTC negotiation message. The payload is opaque to the
// server and forwarded verbatim; SignalType tags offer, answer or
// ice_candidate for the receiving client.
type Signal struct {
	To         string          `json:"to,omitempty"`
	From       string          `json:"from,omitempty"`
	SignalType string          `json:"signalType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ChatMessage is a text message relayed between paired sessions.
type ChatMessage struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// FileMessage points the partner at an uploaded blob.
type FileMessage struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// ReportUser flags another session for moderation.
type ReportUser struct {
	Target string `json:"target"`
}

// Welcome tells a freshly connected client its own session id.
type Welcome struct {
	ID string `json:"id"`
}

// Paired announces a public match.
type Paired struct {
	PartnerID string `json:"partnerId"`
}

// PairedPrivate announces a private room match.
type PairedPrivate struct {
	PartnerID string `json:"partnerId"`
	RoomID    string `json:"roomId"`
}

// PrivateInvite is delivered to the invited session.
type PrivateInvite struct {
	InviteID string `json:"inviteId"`
	From     string `json:"from"`
}

// InviteRejected is delivered to the proposer when the invitee declines.
type InviteRejected struct {
	InviteID string `json:"inviteId"`
}

// InviteFailed is delivered to the proposer (or a failed accepter) when an
// invite cannot proceed. InviteID is empty when the invite never existed.
type InviteFailed struct {
	InviteID string `json:"inviteId,omitempty"`
	Reason   string `json:"reason"`
}

// PeerDisconnected tells the surviving side that its counterpart's
// transport went away.
type PeerDisconnected struct {
	ID string `json:"id"`
}

// PrivateRoomEnded tells the remaining member why the room was destroyed.
type PrivateRoomEnded struct {
	Reason string `json:"reason"`
}

// Warned tells a session it was reported.
type Warned struct {
	By string `json:"by"`
}

// Error reports a recoverable command failure back to the sender only.
type Error struct {
	Reason string `json:"reason"`
}
