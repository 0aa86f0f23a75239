package admission

import "errors"

// Expected rejection outcomes are verdict values, not errors. The errors
// below signal infrastructure problems that the caller may retry; they are
// never folded into an accepted verdict.
var (
	ErrUnknownContext = errors.New("unknown upload context")
	ErrSourceRead     = errors.New("failed to read artifact source")
	ErrStorageFailure = errors.New("storage gateway failure")
	ErrQuarantineHold = errors.New("failed to hold artifact for review")
)
