package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{PhaseIdle, PhaseScanning},
		{PhaseScanning, PhaseConnecting},
		{PhaseConnecting, PhaseVerifying},
		{PhaseVerifying, PhaseCharging},
		{PhaseCharging, PhasePaused},
		{PhasePaused, PhaseCharging},
		{PhaseCharging, PhaseDisconnected},
		{PhasePaused, PhaseDisconnected},
		{PhaseDisconnected, PhaseReconnecting},
		{PhaseReconnecting, PhaseCharging},
	}
	for _, tt := range allowed {
		assert.True(t, canTransition(tt.from, tt.to), "%s > %s", tt.from, tt.to)
	}
	for _, p := range AllPhases {
		assert.True(t, canTransition(p, PhaseIdle), "%s > idle", p)
	}

	rejected := []struct{ from, to Phase }{
		{PhaseIdle, PhaseCharging},
		{PhaseScanning, PhaseCharging},
		{PhaseVerifying, PhasePaused},
		{PhaseDisconnected, PhaseCharging},
		{PhaseReconnecting, PhasePaused},
		{PhaseCharging, PhaseScanning},
	}
	for _, tt := range rejected {
		assert.False(t, canTransition(tt.from, tt.to), "%s > %s", tt.from, tt.to)
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range AllPhases {
		got, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParsePhase(" Controlling ")
	require.NoError(t, err)
	assert.Equal(t, PhaseCharging, got)

	_, err = ParsePhase("sleeping")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Phase(99).String())
}

func TestParseOverride(t *testing.T) {
	tests := map[string]Override{
		"auto":      OverrideAuto,
		"on":        OverrideForceOn,
		"FORCE_ON":  OverrideForceOn,
		"off":       OverrideForceOff,
		"force_off": OverrideForceOff,
	}
	for in, want := range tests {
		got, err := ParseOverride(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOverride("maybe")
	assert.ErrorIs(t, err, ErrInvalidOverride)
}
