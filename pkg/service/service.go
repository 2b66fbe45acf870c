// Package service manages the systemd user timer that sweeps the log root
// without waiting for the next run to trigger it.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

const (
	serviceName = "sink-prune.service"
	timerName   = "sink-prune.timer"
)

// ErrSweepDisabled is returned by Install when sink.prune_interval is zero.
var ErrSweepDisabled = errors.New("sweeping is disabled (sink.prune_interval is 0)")

// ServiceContents returns the oneshot unit running a sweep.
func ServiceContents(binaryPath, configPath string) string {
	command := quote(binaryPath)
	if configPath != "" {
		command += " --config " + quote(configPath)
	}
	return fmt.Sprintf(`[Unit]
Description=Remove expired sink run directories

[Service]
Type=oneshot
ExecStart=%s prune
`, command)
}

// TimerContents returns the timer unit firing the sweep on onCalendar.
func TimerContents(onCalendar string) string {
	return fmt.Sprintf(`[Unit]
Description=Periodic sink log sweep

[Timer]
OnCalendar=%s
Persistent=true
RandomizedDelaySec=10min

[Install]
WantedBy=timers.target
`, onCalendar)
}

// quote renders s as one systemd command-line word, escaping specifiers
// and variable expansion.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%", "$", "$$")
	return `"` + r.Replace(s) + `"`
}

// Calendar picks an OnCalendar expression for a positive sweep interval.
func Calendar(interval time.Duration) string {
	switch {
	case interval >= 7*24*time.Hour:
		return "weekly"
	case interval >= 24*time.Hour:
		return "daily"
	default:
		return "hourly"
	}
}

// UnitDir returns the systemd user unit directory.
func UnitDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user"), nil
}

// Install writes both units, reloads systemd, and enables+starts the timer.
func Install(configPath string, interval time.Duration) error {
	if interval <= 0 {
		return ErrSweepDisabled
	}
	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot resolve sink path: %w", err)
	}
	dir, err := UnitDir()
	if err != nil {
		return err
	}
	if err := WriteUnits(dir, binaryPath, configPath, Calendar(interval)); err != nil {
		return err
	}

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", timerName)
}

// WriteUnits writes the service and timer units into dir.
func WriteUnits(dir, binaryPath, configPath, onCalendar string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	units := map[string]string{
		serviceName: ServiceContents(binaryPath, configPath),
		timerName:   TimerContents(onCalendar),
	}
	for name, contents := range units {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", name, err)
		}
	}
	return nil
}

// Uninstall stops+disables the timer, removes both units, and reloads systemd.
func Uninstall() error {
	// Best-effort; the timer may never have been enabled.
	_ = systemctl("disable", "--now", timerName)

	dir, err := UnitDir()
	if err != nil {
		return err
	}
	for _, name := range []string{timerName, serviceName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot remove %s: %w", name, err)
		}
	}
	return systemctl("daemon-reload")
}

// Status returns a human-readable status string.
func Status(ctx context.Context) string {
	dir, err := UnitDir()
	if err != nil {
		return "systemd user timer: unknown (" + err.Error() + ")"
	}
	if _, err := os.Stat(filepath.Join(dir, timerName)); err != nil {
		return "systemd user timer: not installed"
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return "systemd user timer: unknown (dbus: " + err.Error() + ")"
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{timerName, serviceName})
	if err != nil {
		return "systemd user timer: unknown (" + err.Error() + ")"
	}
	lines := make([]string, 0, len(units))
	for _, u := range units {
		lines = append(lines, fmt.Sprintf("%s: %s", u.Name, describe(u.ActiveState, u.SubState)))
	}
	return strings.Join(lines, "\n")
}

// describe condenses systemd's active and sub state.
func describe(active, sub string) string {
	switch {
	case active == "active" && sub == "waiting":
		return "scheduled"
	case active == "active" && sub == "running", active == "activating":
		return "sweeping"
	case active == "active":
		return "active"
	case active == "inactive" && sub == "dead":
		return "idle"
	case active == "inactive", active == "deactivating":
		return "stopped"
	case active == "failed":
		return "failed"
	default:
		return "unknown"
	}
}

func systemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
