package render

import (
	"strings"
	"unicode"
)

// Tone is the colour class of a header value.
type Tone string

const (
	ToneSuccess      Tone = "success"
	ToneError        Tone = "error"
	ToneWarning      Tone = "warning"
	ToneInfo         Tone = "info"
	ToneNeutral      Tone = "neutral"
	TonePlanStandard Tone = "plan-standard"
	TonePlanPlus     Tone = "plan-performance-plus"
)

// NA is shown for headers the page did not send.
const NA = "N/A"

// HeaderKeys lists the header panel rows in display order. The probe and
// the page collector both report under these keys.
var HeaderKeys = []string{
	"x-hosted-by",
	"x-bigscoots-cache-status",
	"cf-cache-status",
	"x-bigscoots-cache-plan",
	"x-bigscoots-cache-mode",
	"x-bigscoots-cache-mode (O2O)",
	"content-encoding",
	"x-ezoic-cdn",
	"x-np-cfe",
	"perfmattersRUCSS",
	"perfmattersDelayJS",
	"gtm",
	"ua",
	"ga4",
	"ga",
	"adProvider",
}

// normalizeKey lowercases and drops every non-alphanumeric rune, so
// "x-bigscoots-cache-mode (O2O)" becomes "xbigscootscachemodeo2o".
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func present(v string) bool {
	return v != "" && v != "n/a"
}

func enabledTone(on, na bool) Tone {
	switch {
	case on:
		return ToneSuccess
	case na:
		return ToneNeutral
	default:
		return ToneError
	}
}

// HeaderTone classifies a header value for colouring.
func HeaderTone(key, value string) Tone {
	v := strings.ToLower(strings.TrimSpace(value))
	switch normalizeKey(key) {
	case "xbigscootscachestatus", "cfcachestatus":
		switch v {
		case "hit":
			return ToneSuccess
		case "miss":
			return ToneError
		case "bypass":
			return ToneWarning
		case "dynamic":
			return ToneInfo
		}
		return ToneNeutral
	case "xbigscootscacheplan":
		switch v {
		case "standard":
			return TonePlanStandard
		case "performance+":
			return TonePlanPlus
		}
		return ToneNeutral
	case "xbigscootscachemode", "xbigscootscachemodeo2o":
		return enabledTone(v == "enabled" || v == "true", v == "n/a")
	case "xezoiccdn":
		if v == "hit" {
			return ToneSuccess
		}
		return enabledTone(false, !present(v))
	case "xnpcfe":
		if present(v) && v != "disabled" && v != "inactive" {
			return ToneSuccess
		}
		return enabledTone(false, !present(v))
	case "perfmattersrucss", "perfmattersdelayjs":
		return enabledTone(v == "enabled", v == "n/a")
	case "xhostedby", "contentencoding":
		if present(v) {
			return ToneInfo
		}
	case "gtm", "ua", "ga4", "ga":
		if present(v) {
			return ToneWarning
		}
	case "adprovider":
		if present(v) && v != "none detected" {
			return ToneSuccess
		}
	}
	return ToneNeutral
}

// HeaderRow is one line of the header panel.
type HeaderRow struct {
	Key   string
	Value string
	Tone  Tone
}

// HeaderRows builds the panel rows in display order. hasData is false when
// every value is missing.
func HeaderRows(h map[string]string) (rows []HeaderRow, hasData bool) {
	rows = make([]HeaderRow, 0, len(HeaderKeys))
	for _, k := range HeaderKeys {
		v, ok := h[k]
		if !ok || strings.TrimSpace(v) == "" {
			v = NA
		} else if v != NA {
			hasData = true
		}
		rows = append(rows, HeaderRow{Key: k, Value: v, Tone: HeaderTone(k, v)})
	}
	return rows, hasData
}

// CacheStatus picks the cache status shown on the badge: the BigScoots
// header when sent, otherwise Cloudflare's.
func CacheStatus(h map[string]string) string {
	if v := h["x-bigscoots-cache-status"]; v != "" && v != NA {
		return v
	}
	if v := h["cf-cache-status"]; v != "" {
		return v
	}
	return NA
}

// HostedBy returns the x-hosted-by value or N/A.
func HostedBy(h map[string]string) string {
	if v := h["x-hosted-by"]; v != "" {
		return v
	}
	return NA
}
