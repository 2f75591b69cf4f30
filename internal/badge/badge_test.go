package badge

import "testing"

func TestColor(t *testing.T) {
	tests := []struct {
		hostedBy, cacheStatus, want string
	}{
		{"bigscoots", "hit", Blue},
		{"BigScoots", "HIT", Blue},
		{"bigscoots", "miss", Green},
		{"bigscoots", "", Green},
		{"other", "hit", Red},
		{"", "", Red},
		{"N/A", "N/A", Red},
		// Header values arrive untrimmed from some proxies.
		{" bigscoots ", " HIT\t", Blue},
		{" bigscoots ", "", Green},
		{"big scoots", "hit", Red},
	}
	for _, tt := range tests {
		if got := Color(tt.hostedBy, tt.cacheStatus); got != tt.want {
			t.Errorf("Color(%q, %q): got %s, want %s", tt.hostedBy, tt.cacheStatus, got, tt.want)
		}
	}
}

func TestForTransparentBackground(t *testing.T) {
	b := For("bigscoots", "hit")
	if b.Text != "●" {
		t.Errorf("Text: got %q", b.Text)
	}
	if b.Background != [4]int{0, 0, 0, 0} {
		t.Errorf("Background: got %v, want transparent", b.Background)
	}
}
