package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is matched by ProtocolErrors for frames or payloads
	// that cannot be parsed.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnexpectedKey is matched by ProtocolErrors for well-formed responses
	// carrying a different key than the parser expects.
	ErrUnexpectedKey = errors.New("unexpected response key")
)

// ProtocolError describes a frame the codec refused.
type ProtocolError struct {
	Kind  error // ErrMalformedResponse or ErrUnexpectedKey
	Frame string
	Msg   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s (frame %q)", e.Kind, e.Msg, e.Frame)
}

func (e *ProtocolError) Is(target error) bool {
	return target == e.Kind
}

func malformed(frame, format string, a ...any) error {
	return &ProtocolError{Kind: ErrMalformedResponse, Frame: frame, Msg: fmt.Sprintf(format, a...)}
}

func unexpectedKey(frame, want, got string) error {
	return &ProtocolError{Kind: ErrUnexpectedKey, Frame: frame, Msg: fmt.Sprintf("expected %s, got %s", want, got)}
}
