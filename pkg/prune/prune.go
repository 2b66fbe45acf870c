// Package prune deletes run directories that have not been written to for
// longer than the retention period.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danjacques/gofslock/fslock"
)

// Retention is how long a run directory survives without new files.
const Retention = 30 * 24 * time.Hour

// MarkerName is the lock file in the log root. Its mtime records when the
// last sweep started.
const MarkerName = ".prune"

// ErrBusy is returned by Sweep when another sweep holds the lock.
var ErrBusy = errors.New("prune: another sweep is running")

// Options configures a sweep.
type Options struct {
	Root   string
	DryRun bool
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// Report summarizes a sweep.
type Report struct {
	Kept    []string
	Removed []string
	Failed  []string
}

// Due reports whether a sweep should start: interval has elapsed since the
// marker was last touched. A zero interval disables sweeping; a missing
// marker is always due.
func Due(root string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, MarkerName))
	if err != nil {
		return true
	}
	return now.Sub(info.ModTime()) >= interval
}

// Sweep removes expired run directories under opts.Root.
func Sweep(ctx context.Context, opts Options) (Report, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("root", opts.Root, "dry_run", opts.DryRun)

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return Report{}, fmt.Errorf("create log root: %w", err)
	}
	marker := filepath.Join(opts.Root, MarkerName)
	var report Report
	err := fslock.With(marker, func() error {
		now := opts.Now()
		if err := os.Chtimes(marker, now, now); err != nil {
			return fmt.Errorf("touch %s: %w", marker, err)
		}

		entries, err := os.ReadDir(opts.Root)
		if err != nil {
			return fmt.Errorf("list %s: %w", opts.Root, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !entry.IsDir() {
				continue
			}
			name := entry.Name()
			dir := filepath.Join(opts.Root, name)

			newest, err := Newest(dir)
			if err != nil {
				logger.Warn("skipping run directory", "dir", name, "err", err)
				report.Failed = append(report.Failed, name)
				continue
			}
			if !Expired(newest, now) {
				report.Kept = append(report.Kept, name)
				continue
			}

			if opts.DryRun {
				logger.Info("would remove", "dir", name, "newest", newest)
				report.Removed = append(report.Removed, name)
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("remove run directory", "dir", name, "err", err)
				report.Failed = append(report.Failed, name)
				continue
			}
			logger.Info("removed", "dir", name, "newest", newest)
			report.Removed = append(report.Removed, name)
		}
		return nil
	})
	if errors.Is(err, fslock.ErrLockHeld) {
		return Report{}, ErrBusy
	}
	return report, err
}

// Expired reports whether a directory whose newest file dates from newest
// is past retention at now. Exactly Retention old is still kept.
func Expired(newest, now time.Time) bool {
	return now.Sub(newest) > Retention
}

// Newest returns the latest modification time of any file under dir. A
// directory without files yields the zero time.
func Newest(dir string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

// Spawn starts a detached sweep process and does not wait for it. The
// child gets its own session so it outlives the run.
func Spawn(exe string, args ...string) error {
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start sweep: %w", err)
	}
	return cmd.Process.Release()
}
