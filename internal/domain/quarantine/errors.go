package quarantine

import "errors"

var (
	ErrRecordNotFound = errors.New("quarantine record not found")

	// ErrConflict means a transition lost the race: the record's state no
	// longer matched the caller's expectation at commit time. The caller
	// must re-read and retry; nothing was changed.
	ErrConflict = errors.New("state changed since it was read")

	ErrInvalidTransition = errors.New("transition not permitted by the state graph")
	ErrInvalidDecision   = errors.New("unknown review decision")
)
