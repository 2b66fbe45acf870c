// Package model is the Bubble Tea model behind "sink browse".
package model

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logsink/pkg/prune"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneLog
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeConfirmDelete
)

const (
	refreshInterval = 5 * time.Second
	maxLogLines     = 2000
)

// App is the root Bubble Tea model.
type App struct {
	root string

	// State
	runs        []Run
	selectedIdx int
	logRun      string

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	log        viewport.Model
	width      int
	height     int

	// Delete confirmation
	deleteTarget string

	statusMsg string
}

// New creates a browser over the log root.
func New(root string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	return App{
		root:       root,
		search:     si,
		log:        viewport.New(0, 0),
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Init loads the runs.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		loadRunsCmd(a.root),
		tea.SetWindowTitle("sink: "+a.root),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// runsMsg carries a fresh listing of the log root.
type runsMsg struct{ runs []Run }

// logMsg carries the tail of a run's log.
type logMsg struct {
	run   string
	lines []string
}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// resultMsg carries the outcome of an action.
type resultMsg struct{ msg string }

func loadRunsCmd(root string) tea.Cmd {
	return func() tea.Msg {
		runs, err := LoadRuns(root)
		if err != nil {
			return errorMsg{err}
		}
		return runsMsg{runs}
	}
}

func loadLogCmd(run Run) tea.Cmd {
	return func() tea.Msg {
		lines, err := ReadLog(run, maxLogLines)
		if err != nil {
			return errorMsg{err}
		}
		return logMsg{run: run.Name, lines: lines}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func deleteCmd(run Run) tea.Cmd {
	return func() tea.Msg {
		if err := os.RemoveAll(run.Path); err != nil {
			return errorMsg{err}
		}
		return resultMsg{msg: "deleted " + run.Name}
	}
}

// previewPruneCmd runs a dry sweep so the user sees what would expire.
func previewPruneCmd(root string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		report, err := prune.Sweep(ctx, prune.Options{Root: root, DryRun: true})
		if err != nil {
			return errorMsg{err}
		}
		if len(report.Removed) == 0 {
			return resultMsg{msg: "prune: nothing expired"}
		}
		return resultMsg{msg: fmt.Sprintf("prune would remove %d: %s", len(report.Removed), strings.Join(report.Removed, ", "))}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.log.Width = msg.Width - 6
		a.log.Height = max(a.logHeight()-1, 1)
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(), loadRunsCmd(a.root)}
		// Follow the log of a run that is still streaming.
		if run := a.selectedRun(); run != nil && run.Name == a.logRun && run.State == "running" {
			cmds = append(cmds, loadLogCmd(*run))
		}
		return a, tea.Batch(cmds...)

	case runsMsg:
		first := a.runs == nil
		a.runs = msg.runs
		if a.selectedIdx >= len(a.filteredRuns()) {
			a.selectedIdx = max(0, len(a.filteredRuns())-1)
		}
		if first {
			return a, tea.Batch(tickCmd(), a.loadSelectedLog())
		}
		return a, nil

	case logMsg:
		follow := msg.run != a.logRun || a.log.AtBottom()
		a.logRun = msg.run
		a.log.SetContent(strings.Join(msg.lines, "\n"))
		if follow {
			a.log.GotoBottom()
		}
		return a, nil

	case resultMsg:
		a.statusMsg = msg.msg
		return a, loadRunsCmd(a.root)

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			a.selectedIdx = 0
			return a, a.loadSelectedLog()
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	// Delete confirmation mode
	if a.mode == ModeConfirmDelete {
		target := a.deleteTarget
		a.mode = ModeNormal
		a.deleteTarget = ""
		if msg.String() != "y" && msg.String() != "Y" {
			a.statusMsg = "delete cancelled"
			return a, nil
		}
		for _, run := range a.runs {
			if run.Name == target {
				a.statusMsg = "deleting " + target + "..."
				return a, deleteCmd(run)
			}
		}
		return a, nil
	}

	if a.activePane == PaneLog {
		switch msg.String() {
		case "q", "ctrl+c", "tab", "esc":
		default:
			var cmd tea.Cmd
			a.log, cmd = a.log.Update(msg)
			return a, cmd
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList && len(a.filteredRuns()) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.filteredRuns())-1)
			return a, a.loadSelectedLog()
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
			return a, a.loadSelectedLog()
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3
	case "esc":
		a.activePane = PaneList

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "enter", "l":
		a.activePane = PaneLog
		return a, a.loadSelectedLog()

	case "r":
		a.statusMsg = "refreshed"
		return a, loadRunsCmd(a.root)

	case "p":
		a.statusMsg = "checking expired runs..."
		return a, previewPruneCmd(a.root)

	case "d":
		if run := a.selectedRun(); run != nil {
			a.deleteTarget = run.Name
			a.mode = ModeConfirmDelete
			a.statusMsg = "Delete " + run.Name + "? (y/n)"
		}
	}

	return a, nil
}

func (a App) loadSelectedLog() tea.Cmd {
	run := a.selectedRun()
	if run == nil {
		return nil
	}
	return loadLogCmd(*run)
}

func (a App) filteredRuns() []Run {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.runs
	}
	var filtered []Run
	for _, run := range a.runs {
		if strings.Contains(strings.ToLower(run.Name), q) ||
			strings.Contains(strings.ToLower(run.Message), q) ||
			strings.Contains(strings.ToLower(run.State), q) {
			filtered = append(filtered, run)
		}
	}
	return filtered
}

func (a App) selectedRun() *Run {
	runs := a.filteredRuns()
	if a.selectedIdx < len(runs) {
		return &runs[a.selectedIdx]
	}
	return nil
}
