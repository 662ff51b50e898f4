package engine

import "errors"

// All of these are reported to the caller as rejected actions, never
// treated as process-fatal.
var (
	ErrInvalidState        = errors.New("operation not valid in current session state")
	ErrAlreadyJoined       = errors.New("player already joined this session")
	ErrPlayerNotEnrolled   = errors.New("player not enrolled in session")
	ErrRoomNotFound        = errors.New("room not found")
	ErrSessionAlreadyWon   = errors.New("session already won")
	ErrClaimRejected       = errors.New("claim does not complete a winning pattern")
	ErrRandomnessExhausted = errors.New("no numbers left to call")
)
