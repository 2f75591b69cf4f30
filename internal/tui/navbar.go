package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Panel int

const (
	PanelImages Panel = iota
	PanelFonts
	PanelHeaders
	PanelInsights
	PanelDebug
)

const panelCount = 5

var panelNames = []string{"Images", "Fonts", "Headers", "Insights", "Debug"}

func (p Panel) String() string {
	if p < 0 || int(p) >= len(panelNames) {
		return fmt.Sprintf("panel(%d)", int(p))
	}
	return panelNames[p]
}

// next and prev cycle through the panels.
func (p Panel) next() Panel { return (p + 1) % panelCount }
func (p Panel) prev() Panel { return (p + panelCount - 1) % panelCount }

func renderNavbar(active Panel, counts [panelCount]int, status string, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	inactiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	countStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var tabs string
	for i, name := range panelNames {
		if i > 0 {
			tabs += inactiveStyle.Render(" │ ")
		}
		label := fmt.Sprintf("%d %s", i+1, name)
		countSuffix := ""
		if counts[i] > 0 {
			countSuffix = fmt.Sprintf(" (%d)", counts[i])
		}
		if Panel(i) == active {
			tabs += activeStyle.Render(label + countSuffix)
		} else {
			tabs += inactiveStyle.Render(label) + countStyle.Render(countSuffix)
		}
	}

	left := " " + tabs
	right := statusStyle.Render(status)
	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}
