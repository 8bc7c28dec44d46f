package link

import "errors"

var (
	// ErrNotFound is returned when no accessory was seen before the scan timed out.
	ErrNotFound = errors.New("no matching device found")

	// ErrConnectTimeout is returned when the link was not established in time.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrLinkError is returned when the platform refused the connection or the
	// device lacks the expected characteristic.
	ErrLinkError = errors.New("link error")

	// ErrLinkLost is returned to waiters when the link dropped unexpectedly.
	ErrLinkLost = errors.New("link lost")

	// ErrCommandTimeout is returned when no matching response arrived in time.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrAlreadyConnected is returned by Connect while a link is established
	// or being established.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected is returned by Send when there is no link.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned to waiters when the link was released on purpose.
	ErrClosed = errors.New("link closed")
)

// IsLinkDown reports whether err means the link is gone and the caller
// should stop using it until a new Connect succeeds.
func IsLinkDown(err error) bool {
	return errors.Is(err, ErrLinkLost) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}
