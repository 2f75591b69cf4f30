package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/types"
)

var toggleLabels = map[string]string{
	types.ParamPerfmattersOff:    "Disable Perfmatters",
	types.ParamPerfmattersCSSOff: "Disable Perfmatters CSS",
	types.ParamPerfmattersJSOff:  "Disable Perfmatters JS",
	types.ParamNoCache:           "Bypass cache",
}

// debugView is what the Debug panel needs to draw itself.
type debugView struct {
	States  toggle.States
	Cursor  int
	Busy    bool
	Current string // parameter being applied
	Pending int
}

func renderDebug(v debugView) string {
	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	onStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	cursorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	busyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	effective, locked := toggle.Resolve(v.States)

	var b strings.Builder
	b.WriteString(labelStyle.Render("Debug parameters") + "\n\n")
	for i, p := range types.DebugParameters {
		pointer := "  "
		if i == v.Cursor {
			pointer = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if effective[p] {
			box = onStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s %-24s ?%s", box, toggleLabels[p], p)
		switch {
		case v.Busy:
			line = dimStyle.Render(fmt.Sprintf("[%s] %-24s ?%s", mark(effective[p]), toggleLabels[p], p))
		case locked[p]:
			line = dimStyle.Render(fmt.Sprintf("[%s] %-24s ?%s (locked)", mark(effective[p]), toggleLabels[p], p))
		}
		b.WriteString(pointer + line + "\n")
	}

	b.WriteString("\n")
	if v.Busy {
		status := "Applying"
		if v.Current != "" {
			status += " " + v.Current
		}
		if v.Pending > 0 {
			status += fmt.Sprintf(" (%d queued)", v.Pending)
		}
		b.WriteString(busyStyle.Render(status+"...") + "\n")
		b.WriteString(dimStyle.Render("Toggles are disabled until the page has reloaded.") + "\n")
	} else {
		b.WriteString(dimStyle.Render("space/enter toggle · each change reloads the page") + "\n")
	}
	return b.String()
}

func mark(on bool) string {
	if on {
		return "x"
	}
	return " "
}
