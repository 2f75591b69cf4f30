package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/perfdebug/internal/types"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	urlStyle   = lipgloss.NewStyle()

	toneStyles = map[Tone]lipgloss.Style{
		ToneSuccess:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		ToneError:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		ToneWarning:      lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		ToneInfo:         lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true),
		ToneNeutral:      lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		TonePlanStandard: lipgloss.NewStyle().Foreground(lipgloss.Color("135")).Bold(true),
		TonePlanPlus:     lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true),
	}

	ratingTones = map[Rating]Tone{
		Good:             ToneSuccess,
		NeedsImprovement: ToneWarning,
		Poor:             ToneError,
		Monitoring:       ToneInfo,
	}
)

// Styled renders s in the colour of tone t.
func Styled(t Tone, s string) string {
	st, ok := toneStyles[t]
	if !ok {
		st = toneStyles[ToneNeutral]
	}
	return st.Render(s)
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// Images renders the preloaded and eagerly loaded images with their issues.
func Images(images []types.Image, width int) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Found "+plural(len(images), "image")+" to review") + "\n\n")
	if len(images) == 0 {
		b.WriteString(dimStyle.Render("No preloaded or eager images detected on this page.") + "\n")
		return b.String()
	}
	for i, img := range images {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render(fmt.Sprintf("%2d.", i+1)), urlStyle.Render(clip(img.URL, width-4)))

		format := img.Format
		if format == "" {
			format = ImageFormat(img.URL)
		}
		details := []string{"Type: " + strings.ToUpper(img.Type), "Format: " + format}
		if img.Dimensions != nil {
			d := img.Dimensions
			details = append(details, fmt.Sprintf("Natural: %dx%d", d.Natural.Width, d.Natural.Height),
				fmt.Sprintf("Displayed: %dx%d", d.Displayed.Width, d.Displayed.Height))
		}
		b.WriteString("    " + dimStyle.Render(strings.Join(details, " | ")) + "\n")

		var stickers []string
		if img.FetchPriority != "" {
			stickers = append(stickers, Styled(ToneInfo, "PRIORITY: "+strings.ToUpper(img.FetchPriority)))
		}
		if img.AboveFold {
			stickers = append(stickers, Styled(ToneSuccess, "ABOVE FOLD"))
		}
		if img.IsCritical {
			stickers = append(stickers, Styled(ToneWarning, "CRITICAL"))
		}
		if img.Loading != "" {
			stickers = append(stickers, Styled(ToneNeutral, "LOADING: "+strings.ToUpper(img.Loading)))
		}
		if len(stickers) > 0 {
			b.WriteString("    " + strings.Join(stickers, " ") + "\n")
		}
		for _, is := range img.Issues {
			b.WriteString("    " + Styled(issueTone(is.Severity), "! "+is.Message) + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func issueTone(severity string) Tone {
	switch severity {
	case "high", "error", "critical":
		return ToneError
	case "medium", "warning":
		return ToneWarning
	default:
		return ToneInfo
	}
}

// FontDetails builds the "Type: X | Size: S | Load: Nms | CORS: C" line,
// omitting fields that were not reported.
func FontDetails(f types.Font) string {
	var d []string
	typ := f.Type
	if typ == "" {
		typ = FontType(f.URL)
	}
	d = append(d, "Type: "+typ)
	size := f.FileSizeFormatted
	if size == "" && f.FileSize > 0 {
		size = FileSize(f.FileSize)
	}
	if size != "" {
		d = append(d, "Size: "+size)
	}
	if f.LoadTime > 0 {
		d = append(d, fmt.Sprintf("Load: %dms", f.LoadTime))
	}
	if f.CrossOrigin != "" {
		d = append(d, "CORS: "+f.CrossOrigin)
	}
	return strings.Join(d, " | ")
}

// Fonts renders the font list.
func Fonts(fonts []types.Font, width int) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Found "+plural(len(fonts), "font")+" loaded") + "\n\n")
	if len(fonts) == 0 {
		b.WriteString(dimStyle.Render("No fonts detected loading on this page.") + "\n")
		return b.String()
	}
	for i, f := range fonts {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render(fmt.Sprintf("%2d.", i+1)), urlStyle.Render(clip(f.URL, width-4)))
		b.WriteString("    " + dimStyle.Render(FontDetails(f)) + "\n")
		stickers := []string{}
		if f.Preloaded {
			stickers = append(stickers, Styled(ToneSuccess, "PRELOADED"))
		} else {
			stickers = append(stickers, Styled(ToneError, "NOT PRELOADED"))
		}
		if f.FetchPriority != "" {
			stickers = append(stickers, Styled(ToneInfo, "PRIORITY: "+strings.ToUpper(f.FetchPriority)))
		} else {
			stickers = append(stickers, Styled(ToneNeutral, "NO PRIORITY SET"))
		}
		b.WriteString("    " + strings.Join(stickers, " ") + "\n\n")
	}
	return b.String()
}

// Headers renders the header panel.
func Headers(h map[string]string) string {
	var b strings.Builder
	if len(h) == 0 {
		b.WriteString(dimStyle.Render("No header information available or analysis pending.") + "\n")
		return b.String()
	}
	rows, hasData := HeaderRows(h)
	keyWidth := 0
	for _, r := range rows {
		if len(r.Key) > keyWidth {
			keyWidth = len(r.Key)
		}
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%s  %s\n", labelStyle.Render(fmt.Sprintf("%-*s", keyWidth, r.Key)), Styled(r.Tone, r.Value))
	}
	if !hasData {
		b.WriteString("\n" + dimStyle.Render("All header information is N/A or analysis pending.") + "\n")
	}
	return b.String()
}

// Bar draws a rating indicator of the given width with a marker at pos
// percent.
func Bar(pos float64, width int) string {
	if width < 3 {
		width = 3
	}
	idx := int(pos / 100 * float64(width-1))
	if idx > width-1 {
		idx = width - 1
	}
	if idx < 0 {
		idx = 0
	}
	third := width / 3
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i == idx {
			b.WriteString(lipgloss.NewStyle().Bold(true).Render("▲"))
			continue
		}
		t := ToneSuccess
		switch {
		case i >= 2*third:
			t = ToneError
		case i >= third:
			t = ToneWarning
		}
		b.WriteString(Styled(t, "─"))
	}
	return b.String()
}

func vitalCard(v Vital, width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n", labelStyle.Render(fmt.Sprintf("%-5s", v.Name)),
		lipgloss.NewStyle().Bold(true).Render(v.Value), Styled(ratingTones[v.Rating], Label(v.Rating)))
	b.WriteString("       " + Bar(v.Position, min(width-8, 40)) + "\n")
	if v.Message != "" {
		b.WriteString("       " + dimStyle.Render(v.Message) + "\n")
	}
	return b.String()
}

// RecommendationIcon maps a finding type to its marker.
func RecommendationIcon(typ string) string {
	switch typ {
	case "critical":
		return "🚨"
	case "warning":
		return "⚠️"
	default:
		return "💡"
	}
}

func recommendationTone(typ string) Tone {
	switch typ {
	case "critical":
		return ToneError
	case "warning":
		return ToneWarning
	default:
		return ToneInfo
	}
}

// Recommendations renders the plugin conflict findings. analyzed is false
// while the payload has not arrived yet.
func Recommendations(recs []types.Recommendation, analyzed bool) string {
	if !analyzed {
		return dimStyle.Render("Analyzing cache plugins...") + "\n"
	}
	if len(recs) == 0 {
		return Styled(ToneSuccess, "✅ No cache plugin conflicts detected") + "\n"
	}
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s  %s\n", RecommendationIcon(r.Type),
			Styled(recommendationTone(r.Type), r.Title), dimStyle.Render(r.Impact+" Impact"))
		if r.Description != "" {
			b.WriteString("   " + r.Description + "\n")
		}
		b.WriteString("   " + labelStyle.Render("Recommended Action:") + " " + r.Action + "\n\n")
	}
	return b.String()
}

// Insights renders the vitals cards followed by plugin findings.
func Insights(a *types.Analysis, width int) string {
	var b strings.Builder
	if a == nil {
		a = &types.Analysis{}
	}
	b.WriteString(labelStyle.Render("Core Web Vitals") + "\n\n")
	b.WriteString(vitalCard(CLSVital(a.CLS), width))
	b.WriteString(vitalCard(LCPVital(a.LCP), width))
	if a.LCP != nil && a.LCP.Element != nil {
		b.WriteString(lcpElement(a.LCP.Element))
	}
	b.WriteString(vitalCard(INPVital(a.INP), width))
	if v, ok := TTFBVital(a.AdditionalMetrics); ok {
		b.WriteString(vitalCard(v, width))
	}
	b.WriteString("\n" + labelStyle.Render("Cache Plugins") + "\n\n")
	b.WriteString(Recommendations(a.PluginRecommendations, a.PluginRecommendations != nil || a.Plugins != nil))
	return b.String()
}

func lcpElement(e *types.LCPElement) string {
	var parts []string
	if e.Dimensions != nil {
		parts = append(parts, fmt.Sprintf("%dx%dpx", e.Dimensions.Width, e.Dimensions.Height))
	}
	if e.Position != nil {
		parts = append(parts, fmt.Sprintf("at %d, %dpx", e.Position.Left, e.Position.Top))
	}
	var b strings.Builder
	if len(parts) > 0 {
		b.WriteString("       " + dimStyle.Render(strings.Join(parts, " ")) + "\n")
	}
	if e.Src != "" {
		b.WriteString("       " + dimStyle.Render("src: "+Truncate(e.Src, 50)) + "\n")
	}
	if e.TextContent != "" {
		b.WriteString("       " + dimStyle.Render("text: "+Truncate(e.TextContent, 50)) + "\n")
	}
	return b.String()
}

func clip(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	return Truncate(s, width-3)
}
