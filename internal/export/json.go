package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

type jsonExport struct {
	URL        string          `json:"url"`
	Domain     string          `json:"domain"`
	Label      string          `json:"label,omitempty"`
	Rev        int             `json:"rev,omitempty"`
	CapturedAt time.Time       `json:"captured_at,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
	Vitals     []jsonVital     `json:"vitals"`
	Headers    []jsonHeader    `json:"headers"`
	Analysis   *types.Analysis `json:"analysis"`
}

type jsonVital struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Rating string `json:"rating"`
}

type jsonHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Tone  string `json:"tone"`
}

// JSON formats an analysis report as a JSON document. The raw analysis is
// included next to the derived ratings and header tones.
func JSON(r Report) (string, error) {
	a := r.analysis()
	out := jsonExport{
		URL:        r.URL,
		Domain:     extractDomain(r.URL),
		Label:      r.Label,
		Rev:        r.Rev,
		CapturedAt: r.CapturedAt,
		ExportedAt: time.Now(),
		Analysis:   a,
	}

	vitals := []render.Vital{render.CLSVital(a.CLS), render.LCPVital(a.LCP), render.INPVital(a.INP)}
	if v, ok := render.TTFBVital(a.AdditionalMetrics); ok {
		vitals = append(vitals, v)
	}
	for _, v := range vitals {
		out.Vitals = append(out.Vitals, jsonVital{Name: v.Name, Value: v.Value, Rating: string(v.Rating)})
	}

	rows, _ := render.HeaderRows(a.Headers)
	for _, row := range rows {
		out.Headers = append(out.Headers, jsonHeader{Name: row.Key, Value: row.Value, Tone: string(row.Tone)})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
