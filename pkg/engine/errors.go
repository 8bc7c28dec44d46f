package engine

import "errors"

var (
	// ErrLinkInconsistency means the accessory reported a power state other
	// than the one just requested. The link is no longer trusted.
	ErrLinkInconsistency = errors.New("link inconsistency")

	// ErrVerificationFailed means the OS battery state did not follow a
	// power toggle during verification.
	ErrVerificationFailed = errors.New("verification failed")

	ErrAlreadyRunning  = errors.New("engine already running")
	ErrNotControlling  = errors.New("not in charge control")
	ErrInvalidOverride = errors.New("invalid override")
)
