package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

// Change is one value that differs between two revisions.
type Change struct {
	Name string
	From string
	To   string
}

// DiffResult holds the differences between two analyses.
type DiffResult struct {
	URL     string
	RevFrom int
	RevTo   int
	Metrics []Change // vitals whose displayed value or rating changed
	Headers []Change
	Added   []string // image and font URLs only in the newer revision
	Removed []string // image and font URLs only in the older revision
}

// Empty reports whether nothing changed.
func (d *DiffResult) Empty() bool {
	return len(d.Metrics) == 0 && len(d.Headers) == 0 && len(d.Added) == 0 && len(d.Removed) == 0
}

func vitals(a *types.Analysis) []render.Vital {
	out := []render.Vital{render.CLSVital(a.CLS), render.LCPVital(a.LCP), render.INPVital(a.INP)}
	ttfb, ok := render.TTFBVital(a.AdditionalMetrics)
	if !ok {
		ttfb = render.Vital{Name: render.TTFB.Name, Value: "-"}
	}
	return append(out, ttfb)
}

func vitalText(v render.Vital) string {
	if v.Rating == "" {
		return v.Value
	}
	return fmt.Sprintf("%s (%s)", v.Value, render.Label(v.Rating))
}

func resources(a *types.Analysis) map[string]bool {
	out := make(map[string]bool, len(a.Images)+len(a.Fonts))
	for _, img := range a.Images {
		out[img.URL] = true
	}
	for _, f := range a.Fonts {
		out[f.URL] = true
	}
	return out
}

// Diff compares two analyses. Metrics are compared by their displayed
// values, headers by value, and resources by URL.
func Diff(from, to *types.Analysis) *DiffResult {
	if from == nil {
		from = &types.Analysis{}
	}
	if to == nil {
		to = &types.Analysis{}
	}
	d := &DiffResult{}

	fv, tv := vitals(from), vitals(to)
	for i := range fv {
		a, b := vitalText(fv[i]), vitalText(tv[i])
		if a != b {
			d.Metrics = append(d.Metrics, Change{Name: fv[i].Name, From: a, To: b})
		}
	}

	keys := make(map[string]bool)
	for k := range from.Headers {
		keys[k] = true
	}
	for k := range to.Headers {
		keys[k] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		a, b := headerValue(from.Headers, k), headerValue(to.Headers, k)
		if a != b {
			d.Headers = append(d.Headers, Change{Name: k, From: a, To: b})
		}
	}

	before, after := resources(from), resources(to)
	for u := range after {
		if !before[u] {
			d.Added = append(d.Added, u)
		}
	}
	for u := range before {
		if !after[u] {
			d.Removed = append(d.Removed, u)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	return d
}

func headerValue(h map[string]string, k string) string {
	v := strings.TrimSpace(h[k])
	if v == "" {
		return render.NA
	}
	return v
}

// FormatDiff returns a human-readable representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Diff %s rev %d -> %d\n", d.URL, d.RevFrom, d.RevTo)

	if len(d.Metrics) > 0 {
		sb.WriteString("\nMetrics:\n")
		for _, c := range d.Metrics {
			fmt.Fprintf(&sb, "  ~ %-5s %s -> %s\n", c.Name, c.From, c.To)
		}
	}

	if len(d.Headers) > 0 {
		sb.WriteString("\nHeaders:\n")
		for _, c := range d.Headers {
			fmt.Fprintf(&sb, "  ~ %s: %s -> %s\n", c.Name, c.From, c.To)
		}
	}

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, u := range d.Added {
			fmt.Fprintf(&sb, "  + %s\n", u)
		}
	}

	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, u := range d.Removed {
			fmt.Fprintf(&sb, "  - %s\n", u)
		}
	}

	if d.Empty() {
		sb.WriteString("\nNo changes.\n")
	}

	return sb.String()
}
