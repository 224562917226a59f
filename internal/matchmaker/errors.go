package matchmaker

import "errors"

// Sentinel errors for recoverable command failures. These are reported to
// the originating client only and are never fatal to the process.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrAlreadyQueued     = errors.New("session already queued")
	ErrTargetUnavailable = errors.New("target session unavailable")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrInvitePending     = errors.New("invite already pending for this target")
	ErrNotInvitee        = errors.New("invite addressed to another session")
)
