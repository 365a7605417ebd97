// Package report renders benchmark results for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/recompile-bench/internal/proc"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
		Padding(0, 1)

	totalStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))
)

// Result is the externally visible output of one harness run: the ordered
// per-edit milestones plus the overall build duration recovered from the
// trace log.
type Result struct {
	Milestones      []proc.Milestone
	BuildDurationMs float64
}

// Render returns the styled table of per-edit timings followed by the
// overall build duration.
func Render(r Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Incremental recompilation"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %12s %10s", "edit", "time (ms)", "modules")))
	b.WriteString("\n")
	for i, m := range r.Milestones {
		b.WriteString(rowStyle.Render(fmt.Sprintf("%-6d %12s %10s",
			i+1,
			humanize.CommafWithDigits(m.ElapsedTimeMs, 1),
			humanize.Comma(int64(m.ModuleCount)))))
		b.WriteString("\n")
	}

	build := time.Duration(r.BuildDurationMs * float64(time.Millisecond))
	b.WriteString(totalStyle.Render(fmt.Sprintf("next-build: %s ms (%s)",
		humanize.CommafWithDigits(r.BuildDurationMs, 1), build.Round(time.Millisecond))))
	b.WriteString("\n")
	return b.String()
}

// Plain returns an unstyled rendering for piped output.
func Plain(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %12s %10s\n", "edit", "time (ms)", "modules")
	for i, m := range r.Milestones {
		fmt.Fprintf(&b, "%-6d %12.1f %10d\n", i+1, m.ElapsedTimeMs, m.ModuleCount)
	}
	fmt.Fprintf(&b, "next-build: %.1f ms\n", r.BuildDurationMs)
	return b.String()
}
