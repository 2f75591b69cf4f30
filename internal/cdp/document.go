package cdp

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

// Document holds what the inspector reads from the rendered HTML.
type Document struct {
	Images       []types.Image
	PreloadFonts []types.Font
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// ParseDocument extracts preloaded and eager images and preloaded fonts
// from html. Relative URLs are resolved against pageURL.
func ParseDocument(html, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	base, _ := url.Parse(pageURL)

	imgs := make(map[string]*goquery.Selection)
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			u := resolve(base, src)
			if _, seen := imgs[u]; !seen {
				imgs[u] = s
			}
		}
	})

	out := &Document{}
	seen := make(map[string]bool)
	add := func(s *goquery.Selection, attr, kind string) {
		ref, ok := s.Attr(attr)
		if !ok || strings.TrimSpace(ref) == "" {
			return
		}
		u := resolve(base, ref)
		if seen[u] {
			return
		}
		seen[u] = true
		prio, _ := s.Attr("fetchpriority")
		out.Images = append(out.Images, describeImage(u, kind, prio, imgs[u]))
	}
	doc.Find(`link[rel="preload"][as="image"]`).Each(func(_ int, s *goquery.Selection) { add(s, "href", "preload") })
	doc.Find("img[data-perfmatters-preload]").Each(func(_ int, s *goquery.Selection) { add(s, "src", "perfmatters") })
	doc.Find(`img[loading="eager"]`).Each(func(_ int, s *goquery.Selection) { add(s, "src", "eager") })

	doc.Find(`link[rel="preload"][as="font"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u := resolve(base, href)
		prio, _ := s.Attr("fetchpriority")
		cors, hasCORS := s.Attr("crossorigin")
		if hasCORS && cors == "" {
			cors = "anonymous"
		}
		out.PreloadFonts = append(out.PreloadFonts, types.Font{
			URL:           u,
			Preloaded:     true,
			FetchPriority: prio,
			Type:          render.FontType(u),
			CrossOrigin:   cors,
		})
	})
	return out, nil
}

func describeImage(u, kind, prio string, el *goquery.Selection) types.Image {
	img := types.Image{URL: u, Type: kind, FetchPriority: prio, Format: render.ImageFormat(u)}
	if el == nil {
		img.Issues = []types.Issue{{Type: "missing", Severity: "low", Message: "Image not found in DOM"}}
		return img
	}
	img.Loading = attrOr(el, "loading", "auto")
	img.Decoding = attrOr(el, "decoding", "auto")
	if p, ok := el.Attr("fetchpriority"); ok {
		img.FetchPriority = p
	}
	if img.Format == "JPEG" || img.Format == "PNG" {
		img.Issues = append(img.Issues, types.Issue{
			Type:     "format",
			Severity: "low",
			Message:  "Consider modern formats like WebP or AVIF instead of " + img.Format,
		})
	}
	return img
}

func attrOr(s *goquery.Selection, name, def string) string {
	if v, ok := s.Attr(name); ok && v != "" {
		return v
	}
	return def
}

// MergeFonts combines fonts observed loading with preload declarations.
// Loaded fonts keep their timing and size. The result is ordered by load
// time, so preload-only fonts (load time 0) come first.
func MergeFonts(loaded, preloaded []types.Font) []types.Font {
	pre := make(map[string]types.Font, len(preloaded))
	for _, f := range preloaded {
		pre[f.URL] = f
	}
	out := make([]types.Font, 0, len(loaded)+len(preloaded))
	seen := make(map[string]bool)
	for _, f := range loaded {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		if p, ok := pre[f.URL]; ok {
			f.Preloaded = true
			f.FetchPriority = p.FetchPriority
			f.CrossOrigin = p.CrossOrigin
		}
		if f.Type == "" {
			f.Type = render.FontType(f.URL)
		}
		if f.FileSize > 0 && f.FileSizeFormatted == "" {
			f.FileSizeFormatted = render.FileSize(f.FileSize)
		}
		out = append(out, f)
	}
	for _, f := range preloaded {
		if !seen[f.URL] {
			seen[f.URL] = true
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LoadTime < out[j].LoadTime })
	return out
}
