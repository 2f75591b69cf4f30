package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

// Report is one analysis ready for export.
type Report struct {
	URL        string
	Label      string
	Rev        int
	CapturedAt time.Time
	Analysis   *types.Analysis
}

func (r Report) analysis() *types.Analysis {
	if r.Analysis == nil {
		return &types.Analysis{}
	}
	return r.Analysis
}

// Markdown formats an analysis report as a markdown document.
func Markdown(r Report) string {
	var b strings.Builder
	a := r.analysis()

	fmt.Fprintf(&b, "# Performance report: %s\n", r.URL)
	if !r.CapturedAt.IsZero() {
		fmt.Fprintf(&b, "> Captured %s (%s)", r.CapturedAt.Format("2006-01-02 15:04"), relativeTime(r.CapturedAt))
		if r.Rev > 0 {
			fmt.Fprintf(&b, ", revision %d", r.Rev)
		}
		if r.Label != "" {
			fmt.Fprintf(&b, ", %s", r.Label)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Core Web Vitals\n\n")
	b.WriteString("| Metric | Value | Rating |\n|---|---|---|\n")
	vitals := []render.Vital{render.CLSVital(a.CLS), render.LCPVital(a.LCP), render.INPVital(a.INP)}
	if v, ok := render.TTFBVital(a.AdditionalMetrics); ok {
		vitals = append(vitals, v)
	}
	for _, v := range vitals {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", v.Name, v.Value, render.Label(v.Rating))
	}

	n := len(a.Images)
	fmt.Fprintf(&b, "\n## Images (%d %s)\n\n", n, noun(n, "image"))
	for _, img := range a.Images {
		format := img.Format
		if format == "" {
			format = render.ImageFormat(img.URL)
		}
		fmt.Fprintf(&b, "- `%s` %s, %s", img.Type, format, img.URL)
		if img.FetchPriority != "" {
			fmt.Fprintf(&b, " (fetchpriority=%s)", img.FetchPriority)
		}
		b.WriteString("\n")
		for _, is := range img.Issues {
			fmt.Fprintf(&b, "  - %s: %s\n", is.Severity, is.Message)
		}
	}

	n = len(a.Fonts)
	fmt.Fprintf(&b, "\n## Fonts (%d %s)\n\n", n, noun(n, "font"))
	for _, f := range a.Fonts {
		preload := "not preloaded"
		if f.Preloaded {
			preload = "preloaded"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)\n", f.URL, render.FontDetails(f), preload)
	}

	b.WriteString("\n## Headers\n\n")
	rows, hasData := render.HeaderRows(a.Headers)
	if !hasData {
		b.WriteString("All header information is N/A or analysis pending.\n")
	} else {
		b.WriteString("| Header | Value |\n|---|---|\n")
		for _, row := range rows {
			fmt.Fprintf(&b, "| %s | %s |\n", row.Key, row.Value)
		}
	}

	if len(a.PluginRecommendations) > 0 {
		b.WriteString("\n## Cache plugin conflicts\n\n")
		for _, rec := range a.PluginRecommendations {
			fmt.Fprintf(&b, "- **%s** (%s, %s impact): %s\n  Recommended action: %s\n",
				rec.Title, rec.Type, strings.ToLower(rec.Impact), rec.Description, rec.Action)
		}
	}

	return b.String()
}

func noun(n int, s string) string {
	if n == 1 {
		return s
	}
	return s + "s"
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
