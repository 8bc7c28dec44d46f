package engine

import (
	"sync"
	"time"

	"github.com/freegie/freegie/pkg/protocol"
	"github.com/freegie/freegie/pkg/types"
)

// History records the last N telemetry samples.
type History struct {
	MaxRecordCount int
	records        []types.Telemetry
	mu             *sync.Mutex
}

// NewHistory returns an empty History.
func NewHistory(maxRecordCount int) *History {
	return &History{
		MaxRecordCount: maxRecordCount,
		records:        make([]types.Telemetry, 0, maxRecordCount),
		mu:             &sync.Mutex{},
	}
}

// Add appends a sample, dropping the oldest when full.
func (h *History) Add(t protocol.Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) >= h.MaxRecordCount {
		h.records = h.records[1:]
	}
	// Round to strip monotonic clock reading.
	h.records = append(h.records, types.Telemetry{
		Volts:     t.Volts,
		Amps:      t.Amps,
		Watts:     t.Watts(),
		SampledAt: t.SampledAt.Round(0),
	})
}

// Records returns a copy of the samples, oldest first.
func (h *History) Records() []types.Telemetry {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]types.Telemetry(nil), h.records...)
}

// Since returns the samples taken within the last d.
func (h *History) Since(d time.Duration) []types.Telemetry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []types.Telemetry
	for i := len(h.records) - 1; i >= 0; i-- {
		if time.Since(h.records[i].SampledAt) > d {
			break
		}
		out = append([]types.Telemetry{h.records[i]}, out...)
	}
	return out
}

// Clear drops every sample.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = make([]types.Telemetry, 0, h.MaxRecordCount)
}
