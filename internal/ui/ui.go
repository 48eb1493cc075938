// Package ui renders CLI output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

var (
	accent = lipgloss.AdaptiveColor{Light: "#1d4ed8", Dark: "#7aa2f7"}
	pass   = lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#9ece6a"}
	warn   = lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#e0af68"}
	fail   = lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#f7768e"}
	muted  = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#565f89"}

	accentStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(pass)
	warnStyle   = lipgloss.NewStyle().Foreground(warn)
	failStyle   = lipgloss.NewStyle().Foreground(fail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	doneStyle   = lipgloss.NewStyle().Foreground(muted).Strikethrough(true)
)

// Init picks the color profile for w. Colors are disabled when w is not
// a terminal or NO_COLOR is set.
func Init(w io.Writer) {
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(w).EnvColorProfile())
}

// DisableColor forces plain output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// ShortID returns the first eight characters of id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func importanceMark(i task.Importance) string {
	switch i {
	case task.ImportanceHigh:
		return RenderFail("!")
	case task.ImportanceLow:
		return RenderMuted("-")
	default:
		return " "
	}
}

// RenderItem formats one record on a single line:
//
//	[x] 1a2b3c4d ! Buy milk (due 2026-01-02)
func RenderItem(it task.Item, now time.Time) string {
	box := "[ ]"
	text := it.Text
	if it.Done {
		box = RenderPass("[x]")
		text = doneStyle.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %s", box, RenderMuted(ShortID(it.ID)), importanceMark(it.Importance), text)
	if it.Deadline != nil {
		due := "due " + it.Deadline.Local().Format("2006-01-02 15:04")
		if !it.Done && it.Deadline.Before(now) {
			b.WriteString(" " + RenderWarn("("+due+", overdue)"))
		} else {
			b.WriteString(" " + RenderMuted("("+due+")"))
		}
	}
	return b.String()
}

// RenderList formats items one per line followed by a summary line.
func RenderList(items []task.Item, completed int, now time.Time) string {
	if len(items) == 0 {
		return RenderMuted("No items.") + "\n"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString(RenderItem(it, now))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%s\n", RenderMuted(fmt.Sprintf("%d shown, %d completed", len(items), completed)))
	return b.String()
}
