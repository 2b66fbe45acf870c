package model

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/modoterra/logsink/pkg/core"
)

// Run summarizes one run directory.
type Run struct {
	Name     string
	Path     string
	Message  string
	State    string
	Link     string
	Modified time.Time
	Files    int
	Bytes    int64
}

// LoadRuns lists the run directories under root, newest first.
func LoadRuns(root string) ([]Run, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(entries))
	for _, entry := range entries {
		// Skips the prune marker and directories still being created.
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		runs = append(runs, loadRun(filepath.Join(root, entry.Name())))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Modified.Equal(runs[j].Modified) {
			return runs[i].Name < runs[j].Name
		}
		return runs[i].Modified.After(runs[j].Modified)
	})
	return runs, nil
}

func loadRun(dir string) Run {
	run := Run{Name: filepath.Base(dir), Path: dir, State: "running"}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		run.Files++
		run.Bytes += info.Size()
		if info.ModTime().After(run.Modified) {
			run.Modified = info.ModTime()
		}
		return nil
	})

	data, err := os.ReadFile(filepath.Join(dir, "status"))
	if err != nil {
		return run
	}
	rec, err := core.ParseRecord(data)
	if err != nil {
		run.State = "unknown"
		return run
	}
	run.Message = rec.Message
	run.Link = rec.Link
	run.State = "done"
	if rec.GitHub != nil {
		if state, ok := rec.GitHub.Status["state"].(string); ok {
			run.State = state
		}
	}
	return run
}

// ReadLog returns the last maxLines lines of a run's log.
func ReadLog(run Run, maxLines int) ([]string, error) {
	f, err := os.Open(filepath.Join(run.Path, "log"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("read log: %w", err)
	}
	return lines, nil
}
