package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/logsink/pkg/github"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	stateSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statePending = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (a App) logHeight() int {
	return max(a.height/2, 5)
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	logPaneH := a.logHeight()
	mainH := max(a.height-logPaneH-statusBarH-4, 3)
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	list := a.renderList(listW, mainH)
	listPane := a.paneBox(PaneList, " Runs ", list, listW, mainH)

	detail := a.renderDetail()
	detailPane := a.paneBox(PaneDetail, " Status ", detail, detailW, mainH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	logPane := a.paneBox(PaneLog, a.logTitle(), a.log.View(), a.width-4, logPaneH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	runs := a.filteredRuns()
	if len(runs) == 0 {
		return dimStyle.Render("no runs in " + a.root)
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(runs) && i-start < maxVisible; i++ {
		run := runs[i]
		indicator := stateIndicator(run.State)
		name := truncate(run.Name, w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail() string {
	run := a.selectedRun()
	if run == nil {
		return dimStyle.Render("select a run")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\n", run.Name)
	fmt.Fprintf(&b, "State:    %s\n", colorState(run.State))
	if run.Message != "" {
		fmt.Fprintf(&b, "Message:  %s\n", run.Message)
	}
	if run.Link != "" {
		fmt.Fprintf(&b, "Link:     %s\n", dimStyle.Render(run.Link))
	}
	if !run.Modified.IsZero() {
		fmt.Fprintf(&b, "Updated:  %s (%s ago)\n", run.Modified.Format(time.DateTime), formatAge(time.Since(run.Modified)))
	}
	fmt.Fprintf(&b, "Files:    %d (%s)\n", run.Files, formatBytes(uint64(run.Bytes)))
	fmt.Fprintf(&b, "Path:     %s\n", dimStyle.Render(run.Path))
	return b.String()
}

func (a App) logTitle() string {
	if a.logRun == "" {
		return " Log "
	}
	return fmt.Sprintf(" Log: %s %s", a.logRun, dimStyle.Render(fmt.Sprintf("%3.f%%", a.log.ScrollPercent()*100)))
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane enter:log /:search r:refresh p:prune? d:delete q:quit"
	switch {
	case a.mode == ModeSearch:
		right = "enter:apply esc:cancel"
	case a.activePane == PaneLog:
		right = "j/k/pgup/pgdn:scroll esc:back q:quit"
	}

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func stateIndicator(state string) string {
	switch state {
	case github.StateSuccess:
		return stateSuccess.Render("●")
	case github.StatePending, "running":
		return statePending.Render("◌")
	case github.StateFailure, github.StateError:
		return stateFailure.Render("✖")
	case "done":
		return stateDone.Render("○")
	default:
		return dimStyle.Render("?")
	}
}

func colorState(state string) string {
	switch state {
	case github.StateSuccess:
		return stateSuccess.Render(state)
	case github.StatePending, "running":
		return statePending.Render(state)
	case github.StateFailure, github.StateError:
		return stateFailure.Render(state)
	default:
		return dimStyle.Render(state)
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func formatBytes(b uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
