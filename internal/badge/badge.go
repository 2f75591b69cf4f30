// Package badge derives the toolbar badge from a page's hosting and cache
// headers.
package badge

import "strings"

const (
	Blue  = "#1a73e8" // hosted by BigScoots and served from cache
	Green = "#4CAF50" // hosted by BigScoots, cache miss or bypass
	Red   = "#F44336" // not hosted by BigScoots

	Text = "●"
)

// Badge is what the host draws on the toolbar icon of a tab. The dot is
// coloured through the text colour over a transparent background.
type Badge struct {
	Text       string `json:"text"`
	TextColor  string `json:"textColor"`
	Background [4]int `json:"backgroundColor"`
}

// Color maps the x-hosted-by and cache status header values to a colour.
// Comparison ignores case and surrounding whitespace.
func Color(hostedBy, cacheStatus string) string {
	bigscoots := strings.EqualFold(strings.TrimSpace(hostedBy), "bigscoots")
	hit := strings.EqualFold(strings.TrimSpace(cacheStatus), "hit")
	switch {
	case bigscoots && hit:
		return Blue
	case bigscoots:
		return Green
	default:
		return Red
	}
}

// For returns the badge for the given header values.
func For(hostedBy, cacheStatus string) Badge {
	return Badge{Text: Text, TextColor: Color(hostedBy, cacheStatus)}
}
