package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/freegie/freegie/pkg/version"
)

// NewVersionCommand .
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

// NewLimitsCommand .
func NewLimitsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "limits MIN MAX",
		Short:   "Set the charge window",
		GroupID: gBasic,
		Long: `Set the charge window.

Power is cut when the battery reaches MAX percent and restored when it drops
to MIN percent. MIN must be lower than MAX. Both values must be between 0
and 100.

Eg.: freegie limits 75 80`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			low, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid lower limit: %v", err)
			}
			high, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid upper limit: %v", err)
			}

			ret, err := apiClient.SetLimits(low, high)
			if err := report(ret, err, "set limits"); err != nil {
				return err
			}

			logrus.Infof("successfully set charge window to %d%%-%d%%", low, high)
			return nil
		},
	}
}

// NewOverrideCommand .
func NewOverrideCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "override auto|on|off",
		Short:     "Force power on or off, or return to automatic control",
		GroupID:   gBasic,
		ValidArgs: []string{"auto", "on", "off"},
		Long: `Force power on or off, or return to automatic control.

'on' keeps USB-C power flowing regardless of the charge window. 'off' keeps
it cut. 'auto' hands control back to the charge window. The daemon must be
connected to an accessory.`,
		Args: cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(_ *cobra.Command, args []string) error {
			ret, err := apiClient.SetOverride(args[0])
			if err := report(ret, err, "set override"); err != nil {
				return err
			}

			logrus.Infof("override is now %s", args[0])
			return nil
		},
	}
}

// NewPDModeCommand .
func NewPDModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "pd-mode 1|2",
		Short:   "Select the USB-PD mode of the accessory",
		GroupID: gAdvanced,
		Long: `Select the USB-PD mode of the accessory.

1 negotiates a reduced voltage and wattage, which charges slower and cooler.
2 negotiates the maximum the charger offers.`,
		RunE: func(_ *cobra.Command, args []string) error {
			mode, err := parseIntArg(args, "pd mode")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetPDMode(mode)
			if err := report(ret, err, "set pd mode"); err != nil {
				return err
			}

			logrus.Infof("successfully set pd mode to %d", mode)
			return nil
		},
	}
}

// NewTelemetryIntervalCommand .
func NewTelemetryIntervalCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "telemetry-interval SECONDS",
		Short:   "Set how often the accessory is asked for voltage and current",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, args []string) error {
			seconds, err := parseIntArg(args, "interval")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetTelemetryInterval(seconds)
			if err := report(ret, err, "set telemetry interval"); err != nil {
				return err
			}

			logrus.Infof("successfully set telemetry interval to %ds", seconds)
			return nil
		},
	}
}
