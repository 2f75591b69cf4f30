package cdp

import (
	"testing"

	"github.com/lotas/perfdebug/internal/types"
)

const page = `<!doctype html>
<html><head>
<link rel="preload" as="image" href="/wp-content/hero.jpg" fetchpriority="high">
<link rel="preload" as="image" href="https://cdn.example.com/missing.webp">
<link rel="preload" as="font" href="/fonts/inter.woff2" crossorigin>
<link rel="preload" as="font" href="https://fonts.example.com/b.woff" crossorigin="use-credentials" fetchpriority="low">
</head><body>
<img src="/wp-content/hero.jpg" loading="eager" decoding="async">
<img src="/logo.png" data-perfmatters-preload>
<img src="/gallery.avif" loading="eager">
<img src="/lazy.jpg" loading="lazy">
</body></html>`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument(page, "https://example.com/post/")
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	if len(doc.Images) != 4 {
		t.Fatalf("images: got %d, want 4: %+v", len(doc.Images), doc.Images)
	}
	hero := doc.Images[0]
	if hero.URL != "https://example.com/wp-content/hero.jpg" || hero.Type != "preload" {
		t.Errorf("hero: got %+v", hero)
	}
	if hero.Loading != "eager" || hero.Decoding != "async" || hero.Format != "JPEG" {
		t.Errorf("hero attrs: got %+v", hero)
	}
	if len(hero.Issues) != 1 || hero.Issues[0].Type != "format" {
		t.Errorf("hero issues: got %+v", hero.Issues)
	}

	missing := doc.Images[1]
	if len(missing.Issues) != 1 || missing.Issues[0].Message != "Image not found in DOM" {
		t.Errorf("missing: got %+v", missing.Issues)
	}

	if doc.Images[2].Type != "perfmatters" || doc.Images[2].Format != "PNG" {
		t.Errorf("perfmatters: got %+v", doc.Images[2])
	}
	if doc.Images[3].Type != "eager" || doc.Images[3].URL != "https://example.com/gallery.avif" || len(doc.Images[3].Issues) != 0 {
		t.Errorf("eager: got %+v", doc.Images[3])
	}

	if len(doc.PreloadFonts) != 2 {
		t.Fatalf("fonts: got %d, want 2", len(doc.PreloadFonts))
	}
	f := doc.PreloadFonts[0]
	if f.URL != "https://example.com/fonts/inter.woff2" || f.Type != "WOFF2" || f.CrossOrigin != "anonymous" || !f.Preloaded {
		t.Errorf("font 0: got %+v", f)
	}
	if doc.PreloadFonts[1].CrossOrigin != "use-credentials" || doc.PreloadFonts[1].FetchPriority != "low" {
		t.Errorf("font 1: got %+v", doc.PreloadFonts[1])
	}
}

func TestMergeFonts(t *testing.T) {
	loaded := []types.Font{
		{URL: "https://example.com/b.woff", LoadTime: 300, FileSize: 2048},
		{URL: "https://example.com/a.woff2", LoadTime: 120},
	}
	preloaded := []types.Font{
		{URL: "https://example.com/a.woff2", Preloaded: true, FetchPriority: "high", CrossOrigin: "anonymous"},
		{URL: "https://example.com/c.ttf", Preloaded: true, Type: "TTF"},
	}

	got := MergeFonts(loaded, preloaded)

	if len(got) != 3 {
		t.Fatalf("got %d fonts, want 3", len(got))
	}
	if got[0].URL != "https://example.com/c.ttf" {
		t.Errorf("preload-only font should sort first, got %q", got[0].URL)
	}
	if got[1].URL != "https://example.com/a.woff2" || !got[1].Preloaded || got[1].FetchPriority != "high" || got[1].Type != "WOFF2" {
		t.Errorf("a.woff2: got %+v", got[1])
	}
	if got[2].Preloaded || got[2].FileSizeFormatted != "2.0 KB" || got[2].Type != "WOFF" {
		t.Errorf("b.woff: got %+v", got[2])
	}
}

func TestRateVitals(t *testing.T) {
	inp := 650.0
	a := &types.Analysis{
		CLS: &types.CLS{Value: 0.12},
		LCP: &types.LCP{Value: 1800},
		INP: &types.INP{Value: &inp},
	}
	rateVitals(a)
	if a.CLS.Rating != "needs-improvement" || a.LCP.Rating != "good" || a.INP.Rating != "poor" {
		t.Errorf("ratings: cls %q lcp %q inp %q", a.CLS.Rating, a.LCP.Rating, a.INP.Rating)
	}
}

func TestIsPage(t *testing.T) {
	if !IsPage("https://example.com") || IsPage("chrome://settings") {
		t.Error("IsPage mismatch")
	}
}
