package types

import "encoding/json"

// TabID is the host-assigned identifier of a browser tab. It is unique
// while the tab lives; 0 means "no tab".
type TabID int

// WindowID is the host-assigned identifier of a browser window.
type WindowID int

// WindowState says where the popup UI is shown.
type WindowState string

const (
	Attached WindowState = "attached"
	Detached WindowState = "detached"
)

// Debug parameters understood by the inspected sites.
const (
	ParamPerfmattersOff    = "perfmattersoff"
	ParamPerfmattersCSSOff = "perfmatterscssoff"
	ParamPerfmattersJSOff  = "perfmattersjsoff"
	ParamNoCache           = "nocache"
)

// DebugParameters lists the toggles in display order.
var DebugParameters = []string{
	ParamPerfmattersOff,
	ParamPerfmattersCSSOff,
	ParamPerfmattersJSOff,
	ParamNoCache,
}

// Bounds is a window rectangle in screen pixels.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether no bounds were recorded.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Window is a host window as reported by windows.get / windows.create.
type Window struct {
	ID      WindowID `json:"id"`
	Type    string   `json:"type,omitempty"`
	Focused bool     `json:"focused,omitempty"`
	Bounds
}

// WindowSpec describes a window to create.
type WindowSpec struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Focused bool   `json:"focused"`
	Bounds
}

// Tab is a host tab as reported by tabs.get / tabs.query.
type Tab struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"windowId"`
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Status   string   `json:"status,omitempty"` // "loading" or "complete"
	Active   bool     `json:"active,omitempty"`
}

// Binding ties the detached popup window to the tab it inspects.
type Binding struct {
	WindowID WindowID `json:"windowId"`
	Tab      TabID    `json:"tabId"`
	Bounds   Bounds   `json:"bounds"`
}

// Analysis is the decoded view of an analysis payload. The payload itself
// is stored opaque; this struct only covers the fields the renderers read.
type Analysis struct {
	URL                   string             `json:"url,omitempty"`
	Images                []Image            `json:"images,omitempty"`
	Fonts                 []Font             `json:"fonts,omitempty"`
	Headers               map[string]string  `json:"headers,omitempty"`
	Plugins               map[string]Plugin  `json:"plugins,omitempty"`
	CLS                   *CLS               `json:"cls,omitempty"`
	LCP                   *LCP               `json:"lcp,omitempty"`
	INP                   *INP               `json:"inp,omitempty"`
	AdditionalMetrics     *AdditionalMetrics `json:"additionalMetrics,omitempty"`
	PluginRecommendations []Recommendation   `json:"pluginRecommendations,omitempty"`
}

// DecodeAnalysis decodes a raw payload. Unknown fields are ignored.
func DecodeAnalysis(raw json.RawMessage) (*Analysis, error) {
	var a Analysis
	if len(raw) == 0 || string(raw) == "null" {
		return &a, nil
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type ImageDimensions struct {
	Natural   Size `json:"natural"`
	Displayed Size `json:"displayed"`
}

type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Image is a preloaded or eagerly loaded image found on the page.
type Image struct {
	URL           string           `json:"url"`
	Type          string           `json:"type"` // preload, perfmatters, eager
	FetchPriority string           `json:"fetchpriority,omitempty"`
	Format        string           `json:"format,omitempty"`
	Loading       string           `json:"loading,omitempty"`
	Decoding      string           `json:"decoding,omitempty"`
	AboveFold     bool             `json:"aboveFold"`
	IsCritical    bool             `json:"isCritical"`
	Dimensions    *ImageDimensions `json:"dimensions,omitempty"`
	Issues        []Issue          `json:"issues,omitempty"`
}

// Font is a font file loaded or preloaded by the page.
type Font struct {
	URL               string `json:"url"`
	LoadTime          int    `json:"loadTime"`
	Preloaded         bool   `json:"preloaded"`
	FetchPriority     string `json:"fetchpriority,omitempty"`
	Type              string `json:"type,omitempty"`
	CrossOrigin       string `json:"crossorigin,omitempty"`
	FileSize          int64  `json:"fileSize,omitempty"`
	FileSizeFormatted string `json:"fileSizeFormatted,omitempty"`
}

type Plugin struct {
	Detected bool   `json:"detected"`
	Category string `json:"category"`
}

// Recommendation is a plugin-conflict finding produced by the page collector.
type Recommendation struct {
	Type        string `json:"type"` // critical, warning, info
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
	Impact      string `json:"impact"`
}

type CLS struct {
	Value   float64 `json:"value"`
	Rating  string  `json:"rating,omitempty"`
	Entries []struct {
		Value     float64 `json:"value"`
		StartTime float64 `json:"startTime"`
	} `json:"entries,omitempty"`
}

type LCPElement struct {
	TagName     string `json:"tagName"`
	ID          string `json:"id,omitempty"`
	ClassString string `json:"classString,omitempty"`
	Src         string `json:"src,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	Dimensions  *Size  `json:"dimensions,omitempty"`
	Position    *struct {
		Top  int `json:"top"`
		Left int `json:"left"`
	} `json:"position,omitempty"`
}

type LCP struct {
	Value   float64     `json:"value"`
	Rating  string      `json:"rating,omitempty"`
	Element *LCPElement `json:"element,omitempty"`
}

type Interaction struct {
	Name     string `json:"name"`
	Target   string `json:"target"`
	Duration int    `json:"duration"`
}

type INP struct {
	Value   *float64      `json:"value"` // nil until an interaction is measured
	Rating  string        `json:"rating,omitempty"`
	Status  string        `json:"status,omitempty"` // waiting, measured
	Entries []Interaction `json:"entries,omitempty"`
}

type AdditionalMetrics struct {
	TTFB     float64 `json:"ttfb,omitempty"`
	FCP      float64 `json:"fcp,omitempty"`
	DOMLoad  float64 `json:"domLoad,omitempty"`
	PageLoad float64 `json:"pageLoad,omitempty"`
}
