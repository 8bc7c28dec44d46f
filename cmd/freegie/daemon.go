package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/freegie/freegie/pkg/daemon"
	"github.com/freegie/freegie/pkg/version"
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	opts := daemon.Options{}

	cmd := &cobra.Command{
		Use:     "daemon",
		Hidden:  true,
		Short:   "Run freegie daemon in the foreground",
		GroupID: gAdvanced,
		Long: `Run freegie daemon in the foreground.

The daemon owns the Bluetooth link to the accessory and serves the API on
--daemon-socket. Settings come from --config; the flags below override the
file for this run only and are never saved.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			opts.ConfigPath = configPath
			opts.SocketPath = unixSocketPath
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
				"config":  opts.ConfigPath,
				"socket":  opts.SocketPath,
			}).Info("freegie daemon starting")
			return daemon.Run(opts)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&opts.AllowNonRoot, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&opts.Listen, "listen", "", "also serve the API on this TCP address, e.g. 127.0.0.1:7380")
	f.StringVar(&opts.Adapter, "adapter", "", "BlueZ adapter to use instead of the configured one, e.g. hci1")
	f.BoolVar(&opts.NoAutoStart, "no-auto-start", false, "wait for a scan request instead of connecting at startup")

	return cmd
}
