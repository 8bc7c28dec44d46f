package main

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newActionCommand(use, short string, action func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := action()
			return report(ret, err, use)
		},
	}
}

// NewScanCommand .
func NewScanCommand() *cobra.Command {
	return newActionCommand("scan", "Scan for an accessory and start controlling it", func() (string, error) {
		return apiClient.Scan()
	})
}

// NewStartCommand .
func NewStartCommand() *cobra.Command {
	return newActionCommand("start", "Connect to the configured accessory and start controlling it", func() (string, error) {
		return apiClient.Start()
	})
}

// NewStopCommand .
func NewStopCommand() *cobra.Command {
	return newActionCommand("stop", "Stop controlling the accessory and disconnect", func() (string, error) {
		return apiClient.Stop()
	})
}

// NewDisconnectCommand .
func NewDisconnectCommand() *cobra.Command {
	return newActionCommand("disconnect", "Drop the accessory link without stopping the daemon", func() (string, error) {
		return apiClient.Disconnect()
	})
}

// NewPollCommand .
func NewPollCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "poll",
		Short:   "Read voltage and current from the accessory now",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := apiClient.Poll()
			if err != nil {
				return err
			}
			cmd.Printf("%s  %s  %s\n", bold("%.2f V", t.Volts), bold("%.2f A", t.Amps), bold("%.1f W", t.Watts))
			return nil
		},
	}
}

// NewHistoryCommand .
func NewHistoryCommand() *cobra.Command {
	since := 10 * time.Minute

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show recent telemetry samples",
		GroupID: gAdvanced,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			samples, err := apiClient.GetHistory(since)
			if err != nil {
				return err
			}
			if len(samples) == 0 {
				logrus.Infof("no samples in the last %s", since)
				return nil
			}
			for _, t := range samples {
				cmd.Printf("%s  %6.2f V  %6.2f A  %6.1f W\n", t.SampledAt.Local().Format(time.TimeOnly), t.Volts, t.Amps, t.Watts)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", since, "only show samples newer than this")

	return cmd
}
