package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/sirupsen/logrus"
)

const unitName = "freegie.service"

var (
	unitPath = "/etc/systemd/system/" + unitName

	// systemctl runs systemctl with args. Replaced in tests.
	systemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %v: %w: %s", args, err, bytes.TrimSpace(out))
		}
		return nil
	}
)

const unitTemplate = `[Unit]
Description=freegie charge limiter for Chargie accessories
Wants=bluetooth.service
After=bluetooth.service

[Service]
Type=simple
ExecStart={{.Executable}} daemon --config {{.ConfigPath}} --daemon-socket {{.SocketPath}}{{if .AllowNonRoot}} --always-allow-non-root-access{{end}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// UnitOptions fill the systemd unit.
type UnitOptions struct {
	Executable   string
	ConfigPath   string
	SocketPath   string
	AllowNonRoot bool
}

// RenderUnit returns the systemd unit for opts.
func RenderUnit(opts UnitOptions) (string, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Install writes the systemd unit for the current executable, then enables
// and starts it.
func Install(configPath, socketPath string, allowNonRoot bool) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unit, err := RenderUnit(UnitOptions{
		Executable:   exePath,
		ConfigPath:   configPath,
		SocketPath:   socketPath,
		AllowNonRoot: allowNonRoot,
	})
	if err != nil {
		return fmt.Errorf("failed to render unit: %w", err)
	}

	logrus.Infof("writing systemd unit to %s", unitPath)

	err = os.MkdirAll(filepath.Dir(unitPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, []byte(unit), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting freegie")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", unitName)
}
