package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/lotas/perfdebug/internal/types"
)

// Rating is a Core Web Vitals bucket.
type Rating string

const (
	Good             Rating = "good"
	NeedsImprovement Rating = "needs-improvement"
	Poor             Rating = "poor"
	Monitoring       Rating = "monitoring"
)

// Metric holds the thresholds and indicator scale of one vital.
type Metric struct {
	Name  string
	Good  float64 // values below are good
	Poor  float64 // values at or above are poor
	Scale float64 // value drawn at the right edge of the indicator
}

var (
	CLS  = Metric{Name: "CLS", Good: 0.1, Poor: 0.25, Scale: 0.5}
	LCP  = Metric{Name: "LCP", Good: 2500, Poor: 4000, Scale: 8000}
	INP  = Metric{Name: "INP", Good: 200, Poor: 500, Scale: 800}
	TTFB = Metric{Name: "TTFB", Good: 800, Poor: 1800, Scale: 2400}
)

// Rate buckets v against the metric thresholds.
func (m Metric) Rate(v float64) Rating {
	switch {
	case v < m.Good:
		return Good
	case v < m.Poor:
		return NeedsImprovement
	default:
		return Poor
	}
}

// Position is the indicator offset in percent, capped at 100.
func (m Metric) Position(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Min(v/m.Scale*100, 100)
}

// Label capitalizes a rating for display: "needs-improvement" becomes
// "Needs improvement". An empty rating reads as good.
func Label(r Rating) string {
	s := string(r)
	if s == "" {
		s = string(Good)
	}
	s = strings.Replace(s, "-", " ", 1)
	return strings.ToUpper(s[:1]) + s[1:]
}

// orGood returns the reported rating, defaulting to good.
func orGood(s string) Rating {
	if s == "" {
		return Good
	}
	return Rating(s)
}

// Vital is the display state of one metric card.
type Vital struct {
	Name     string
	Value    string
	Rating   Rating
	Position float64
	Message  string
}

func CLSVital(c *types.CLS) Vital {
	v := Vital{Name: CLS.Name, Value: "0.000", Rating: Good}
	if c == nil {
		return v
	}
	v.Value = fmt.Sprintf("%.3f", c.Value)
	v.Rating = orGood(c.Rating)
	v.Position = CLS.Position(c.Value)
	return v
}

func LCPVital(l *types.LCP) Vital {
	v := Vital{Name: LCP.Name, Value: "0ms", Rating: Good}
	if l == nil {
		return v
	}
	if l.Value > 0 {
		v.Value = fmt.Sprintf("%dms", int(math.Round(l.Value)))
	}
	v.Rating = orGood(l.Rating)
	v.Position = LCP.Position(l.Value)
	if l.Element != nil {
		v.Message = ElementTag(l.Element)
	}
	return v
}

// INPVital reports a monitoring state until the first interaction arrives.
func INPVital(in *types.INP) Vital {
	v := Vital{Name: INP.Name, Value: "-", Rating: Good}
	if in == nil || in.Value == nil {
		v.Message = "No interactions detected yet"
		if in != nil && in.Status == "waiting" {
			v.Rating = Monitoring
			v.Message = "Click anywhere on the page to measure interaction responsiveness"
		}
		return v
	}
	val := *in.Value
	v.Value = fmt.Sprintf("%dms", int(math.Round(val)))
	v.Rating = orGood(in.Rating)
	v.Position = INP.Position(val)
	if len(in.Entries) > 0 {
		e := in.Entries[0]
		v.Message = fmt.Sprintf("Latest interaction: %s on %s (%dms)", e.Name, e.Target, e.Duration)
	} else {
		v.Message = fmt.Sprintf("INP measured: %dms", int(math.Round(val)))
	}
	return v
}

// TTFBVital returns ok=false when no TTFB was reported.
func TTFBVital(m *types.AdditionalMetrics) (Vital, bool) {
	if m == nil || m.TTFB == 0 {
		return Vital{}, false
	}
	return Vital{
		Name:     TTFB.Name,
		Value:    fmt.Sprintf("%dms", int(math.Round(m.TTFB))),
		Rating:   TTFB.Rate(m.TTFB),
		Position: TTFB.Position(m.TTFB),
	}, true
}

// ElementTag renders an LCP element as TAG#id.class.
func ElementTag(e *types.LCPElement) string {
	s := strings.ToUpper(e.TagName)
	if e.ID != "" {
		s += "#" + e.ID
	}
	if f := strings.Fields(e.ClassString); len(f) > 0 {
		s += "." + f[0]
	}
	return s
}
