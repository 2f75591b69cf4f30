// Package render turns analysis payloads into terminal text. The pure
// helpers (ratings, tones, formats) are shared by the TUI and the reports.
package render

import (
	"fmt"
	"net/url"
	"strings"
)

// FileSize formats a byte count as B, KB or MB. Zero is "Unknown".
func FileSize(n int64) string {
	switch {
	case n <= 0:
		return "Unknown"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

// extension returns the lowercased file extension of a resource URL with
// query and fragment removed.
func extension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	i := strings.LastIndex(p, ".")
	if i < 0 || strings.Contains(p[i:], "/") {
		return ""
	}
	return strings.ToLower(p[i+1:])
}

var fontTypes = map[string]string{
	"woff2": "WOFF2",
	"woff":  "WOFF",
	"ttf":   "TTF",
	"otf":   "OTF",
	"eot":   "EOT",
	"svg":   "SVG",
}

// FontType names a font file format from its URL extension.
func FontType(raw string) string {
	if t, ok := fontTypes[extension(raw)]; ok {
		return t
	}
	return "Unknown"
}

var imageFormats = map[string]string{
	"jpg":  "JPEG",
	"jpeg": "JPEG",
	"png":  "PNG",
	"gif":  "GIF",
	"webp": "WebP",
	"avif": "AVIF",
	"svg":  "SVG",
}

// ImageFormat names an image format from its URL extension.
func ImageFormat(raw string) string {
	if f, ok := imageFormats[extension(raw)]; ok {
		return f
	}
	return "Unknown"
}

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
