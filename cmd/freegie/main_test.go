package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntArg(t *testing.T) {
	v, err := parseIntArg([]string{"42"}, "value")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = parseIntArg(nil, "value")
	assert.Error(t, err)
	_, err = parseIntArg([]string{"1", "2"}, "value")
	assert.Error(t, err)
	_, err = parseIntArg([]string{"abc"}, "value")
	assert.ErrorContains(t, err, "invalid value")
}

func TestCommandTree(t *testing.T) {
	root := NewCommand()
	for _, name := range []string{
		"daemon", "version", "status", "limits", "override", "scan", "start", "stop",
		"disconnect", "poll", "history", "pd-mode", "telemetry-interval", "install", "uninstall",
	} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	f := root.PersistentFlags()
	assert.Equal(t, "/etc/freegie.json", f.Lookup("config").DefValue)
	assert.Equal(t, "/var/run/freegie.sock", f.Lookup("daemon-socket").DefValue)
}

func TestDaemonFlags(t *testing.T) {
	cmd, _, err := NewCommand().Find([]string{"daemon"})
	require.NoError(t, err)
	for _, name := range []string{"always-allow-non-root-access", "listen", "adapter", "no-auto-start"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestOverrideRejectsUnknownMode(t *testing.T) {
	root := NewCommand()
	cmd, _, err := root.Find([]string{"override"})
	require.NoError(t, err)
	assert.Error(t, cmd.Args(cmd, []string{"sometimes"}))
	assert.NoError(t, cmd.Args(cmd, []string{"auto"}))
}
