package events

import "encoding/json"

const (
	// StatusUpdate carries a types.Status.
	StatusUpdate = "status.update"
	// PhaseChange carries a types.PhaseChange.
	PhaseChange = "phase.change"
)

// Event is a generic event fanned out to SSE and WebSocket clients.
type Event struct {
	Name string
	Data json.RawMessage
}

// DecodeAs decodes the payload into T, e.g. DecodeAs[types.Status](ev) for a
// StatusUpdate. Empty data decodes to the zero value.
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
