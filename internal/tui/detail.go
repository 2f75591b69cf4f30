package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

// DetailModel is the scrollable body of the active panel.
type DetailModel struct {
	Width      int
	Height     int
	Scroll     int // scroll offset
	ContentLen int // total lines in content
}

// ScrollUp adjusts the scroll offset upward.
func (m *DetailModel) ScrollUp() {
	if m.Scroll > 0 {
		m.Scroll--
	}
}

// ScrollDown adjusts the scroll offset downward.
func (m *DetailModel) ScrollDown() {
	if m.Scroll < m.ContentLen-m.Height {
		m.Scroll++
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}
}

// ResetScroll resets the scroll offset to 0.
func (m *DetailModel) ResetScroll() {
	m.Scroll = 0
}

// ViewPage renders the page summary shown above every panel.
func (m DetailModel) ViewPage(tab types.TabID, url string, a *types.Analysis) string {
	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	if tab == 0 {
		return dimStyle.Render("No page analyzed yet. Open a page with the extension installed.")
	}
	if url == "" && a != nil {
		url = a.URL
	}
	line := labelStyle.Render(fmt.Sprintf("Tab %d", tab)) + " " + render.Truncate(url, m.Width-12)
	if a == nil {
		return line + "\n" + dimStyle.Render("Waiting for analysis results...")
	}
	hosted := render.HostedBy(a.Headers)
	cache := render.CacheStatus(a.Headers)
	return line + "\n" + dimStyle.Render("Hosted by: ") + styledHeader("x-hosted-by", hosted) +
		dimStyle.Render("  Cache: ") + styledHeader("x-bigscoots-cache-status", cache)
}

func styledHeader(key, value string) string {
	return render.Styled(render.HeaderTone(key, value), value)
}

// ViewPanel renders the body of p for the analysis.
func (m DetailModel) ViewPanel(p Panel, a *types.Analysis) string {
	if a == nil {
		return ""
	}
	switch p {
	case PanelImages:
		return render.Images(a.Images, m.Width)
	case PanelFonts:
		return render.Fonts(a.Fonts, m.Width)
	case PanelHeaders:
		return render.Headers(a.Headers)
	case PanelInsights:
		return render.Insights(a, m.Width)
	}
	return ""
}

// ViewScrolled applies scroll offset and height truncation to the content string.
func (m *DetailModel) ViewScrolled(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	m.ContentLen = len(lines)

	// Clamp scroll
	maxScroll := m.ContentLen - m.Height
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.Scroll > maxScroll {
		m.Scroll = maxScroll
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}

	end := m.Scroll + m.Height
	if end > len(lines) {
		end = len(lines)
	}

	if m.Scroll >= len(lines) {
		return ""
	}

	return strings.Join(lines[m.Scroll:end], "\n")
}
