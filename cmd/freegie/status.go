package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/freegie/freegie/pkg/config"
	"github.com/freegie/freegie/pkg/types"
)

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of freegie",
		Long:    `Get the control phase, battery, accessory and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			raw, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			if asJSON {
				b, err := json.MarshalIndent(struct {
					Status *types.Status         `json:"status"`
					Config *config.RawFileConfig `json:"config"`
				}{st, raw}, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, st, config.NewFileFromConfig(raw, ""))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *types.Status, conf config.Config) {
	cmd.Println(bold("Control:"))
	cmd.Printf("  Phase: %s\n", phaseText(st.Phase))
	if st.ReconnectAttempt > 0 {
		cmd.Printf("    Reconnect attempt %d, next in %.0fs\n", st.ReconnectAttempt, st.ReconnectDelay)
	}
	cmd.Printf("  Override: %s\n", bold("%s", st.Override))
	cmd.Printf("  USB-C power: %s\n", bool2Text(st.Charging))
	switch {
	case st.Override == "on":
		cmd.Println("    Power stays on until you run 'freegie override auto'.")
	case st.Override == "off":
		cmd.Println("    Power stays off until you run 'freegie override auto'.")
	case st.Phase == "paused":
		cmd.Printf("    Power will be restored when the battery drops to %d%%.\n", st.ChargeMin)
	case st.Phase == "charging":
		cmd.Printf("    Power will be cut when the battery reaches %d%%.\n", st.ChargeMax)
	}

	cmd.Println()

	cmd.Println(bold("Battery status:"))
	if st.BatteryPercent != nil {
		cmd.Printf("  Current charge: %s\n", bold("%d%%", *st.BatteryPercent))
	} else {
		cmd.Printf("  Current charge: %s\n", bold("unknown"))
	}
	state := st.BatteryStatus
	switch state {
	case "charging":
		state = color.GreenString(state)
	case "discharging":
		state = color.RedString(state)
	}
	cmd.Printf("  State: %s\n", bold("%s", state))

	cmd.Println()

	cmd.Println(bold("Accessory:"))
	if st.Device == nil {
		cmd.Println("  Not connected")
	} else {
		d := st.Device
		cmd.Printf("  Address: %s\n", bold("%s", d.Address))
		if d.Name != "" {
			cmd.Printf("  Name: %s\n", bold("%s", d.Name))
		}
		cmd.Printf("  Firmware: %s  Hardware: %s\n", bold("%s", d.Firmware), bold("%s", d.Hardware))
		cmd.Printf("  USB-PD: %s  Second FET: %s  Auto mode: %s\n",
			bool2Text(d.Capabilities.PD), bool2Text(d.Capabilities.FET2), bool2Text(d.Capabilities.Auto))
		cmd.Printf("  PD mode: %s\n", bold("%d", st.PDMode))
	}
	if t := st.Telemetry; t != nil {
		watts := t.Watts
		rateStr := bold("%.1f W", watts)
		if watts > 0 {
			rateStr = color.New(color.Bold, color.FgGreen).Sprintf("%.1f W", watts)
		}
		cmd.Printf("  Output: %s at %s, %s\n", rateStr, bold("%.2f V", t.Volts), bold("%.2f A", t.Amps))
	}

	cmd.Println()

	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Charge window: %s\n", bold("%d%% - %d%%", conf.ChargeMin(), conf.ChargeMax()))
	cmd.Printf("  Telemetry interval: %s\n", bold("%s", conf.TelemetryInterval()))
	cmd.Printf("  Reconnect automatically: %s\n", bool2Text(conf.AutoReconnect()))
	cmd.Printf("  Verify charging state: %s\n", bool2Text(conf.VerifyChargingState()))
	cmd.Printf("  Restore power on stop: %s\n", bool2Text(conf.RestorePowerOnStop()))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}

func phaseText(phase string) string {
	switch phase {
	case "charging":
		return color.New(color.Bold, color.FgGreen).Sprint(phase)
	case "paused":
		return color.New(color.Bold, color.FgYellow).Sprint(phase)
	case "reconnecting", "disconnected":
		return color.New(color.Bold, color.FgRed).Sprint(phase)
	default:
		return bold("%s", phase)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
