// Package cdp runs a one-shot page inspection in Chrome over the DevTools
// protocol, producing the same analysis payload the extension sends.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/probe"
	"github.com/lotas/perfdebug/internal/render"
	"github.com/lotas/perfdebug/internal/types"
)

// Options configures an inspection.
type Options struct {
	Remote     string // DevTools websocket URL; empty launches a local browser
	Headless   bool
	Timeout    time.Duration
	Settle     time.Duration // wait after load before reading metrics
	Parameters params.Set    // debug parameters applied to the URL; nil leaves it as given
	UserAgent  string
}

// Result is the outcome of one inspection.
type Result struct {
	URL      string
	Status   int
	Analysis *types.Analysis
	Payload  json.RawMessage
}

// vitalsScript reads buffered performance entries and resolves with the
// metric part of an analysis payload.
const vitalsScript = `new Promise((resolve) => {
  const out = { cls: { value: 0 }, lcp: { value: 0 }, inp: { value: null, status: "waiting" }, additionalMetrics: {}, fonts: [] };
  const observe = (type, fn) => { try { new PerformanceObserver((l) => l.getEntries().forEach(fn)).observe({ type, buffered: true }); } catch (e) {} };
  observe("layout-shift", (e) => { if (!e.hadRecentInput) out.cls.value += e.value; });
  observe("largest-contentful-paint", (e) => {
    out.lcp.value = e.renderTime || e.loadTime || e.startTime;
    const el = e.element;
    if (el) {
      out.lcp.element = {
        tagName: el.tagName.toLowerCase(),
        id: el.id || "",
        classString: typeof el.className === "string" ? el.className : "",
        src: el.currentSrc || el.src || "",
        textContent: (el.textContent || "").trim().substring(0, 200),
        dimensions: { width: el.offsetWidth, height: el.offsetHeight },
        position: { top: el.offsetTop, left: el.offsetLeft },
      };
    }
  });
  observe("event", (e) => {
    if (!e.interactionId) return;
    if (out.inp.value === null || e.duration > out.inp.value) out.inp.value = e.duration;
    out.inp.status = "measured";
  });
  const nav = performance.getEntriesByType("navigation")[0];
  if (nav) {
    out.additionalMetrics.ttfb = nav.responseStart;
    out.additionalMetrics.domLoad = nav.domContentLoadedEventEnd;
    out.additionalMetrics.pageLoad = nav.loadEventEnd;
  }
  const fcp = performance.getEntriesByName("first-contentful-paint")[0];
  if (fcp) out.additionalMetrics.fcp = fcp.startTime;
  performance.getEntriesByType("resource").forEach((r) => {
    if (r.initiatorType === "css" && (r.name.includes("/fonts/") || /\.(woff2?|ttf|otf|eot)($|\?)/i.test(r.name))) {
      out.fonts.push({ url: r.name, loadTime: Math.round(r.startTime), fileSize: r.transferSize || 0 });
    }
  });
  setTimeout(() => resolve(out), 100);
})`

type vitals struct {
	CLS               *types.CLS               `json:"cls"`
	LCP               *types.LCP               `json:"lcp"`
	INP               *types.INP               `json:"inp"`
	AdditionalMetrics *types.AdditionalMetrics `json:"additionalMetrics"`
	Fonts             []types.Font             `json:"fonts"`
}

func allocator(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Remote != "" {
		return chromedp.NewRemoteAllocator(ctx, opts.Remote)
	}
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1366, 768),
	)
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	return chromedp.NewExecAllocator(ctx, flags...)
}

// documentWatcher records the headers of the first document response.
type documentWatcher struct {
	mu      sync.Mutex
	done    bool
	status  int
	headers http.Header
}

func (w *documentWatcher) listen(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	w.status = int(e.Response.Status)
	w.headers = make(http.Header, len(e.Response.Headers))
	for k, v := range e.Response.Headers {
		w.headers.Set(k, fmt.Sprint(v))
	}
}

// Inspect loads target in Chrome and builds an analysis of it.
func Inspect(ctx context.Context, target string, opts Options) (*Result, error) {
	pageURL := target
	if opts.Parameters != nil {
		pageURL = params.Apply(target, opts.Parameters)
	}
	applog.Info("inspect.start", "url", pageURL, "remote", opts.Remote != "")

	allocCtx, cancelAlloc := allocator(ctx, opts)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var w documentWatcher
	chromedp.ListenTarget(runCtx, w.listen)

	var v vitals
	var html string
	err := chromedp.Run(runCtx,
		network.Enable(),
		network.SetCacheDisabled(true),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(opts.Settle),
		chromedp.Evaluate(vitalsScript, &v, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		applog.Error("inspect.failed", err, "url", pageURL)
		return nil, fmt.Errorf("inspect %s: %w", pageURL, err)
	}

	doc, err := ParseDocument(html, pageURL)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	headers := probe.Extract(w.headers)
	status := w.status
	w.mu.Unlock()

	a := &types.Analysis{
		URL:                   pageURL,
		Images:                doc.Images,
		Fonts:                 MergeFonts(v.Fonts, doc.PreloadFonts),
		Headers:               headers,
		CLS:                   v.CLS,
		LCP:                   v.LCP,
		INP:                   v.INP,
		AdditionalMetrics:     v.AdditionalMetrics,
		PluginRecommendations: []types.Recommendation{},
	}
	rateVitals(a)

	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	applog.Info("inspect.done", "url", pageURL, "status", status, "images", len(a.Images), "fonts", len(a.Fonts))
	return &Result{URL: pageURL, Status: status, Analysis: a, Payload: payload}, nil
}

// rateVitals fills in ratings the browser does not report.
func rateVitals(a *types.Analysis) {
	if a.CLS != nil && a.CLS.Rating == "" {
		a.CLS.Rating = string(render.CLS.Rate(a.CLS.Value))
	}
	if a.LCP != nil && a.LCP.Rating == "" {
		a.LCP.Rating = string(render.LCP.Rate(a.LCP.Value))
	}
	if a.INP != nil && a.INP.Value != nil && a.INP.Rating == "" {
		a.INP.Rating = string(render.INP.Rate(*a.INP.Value))
	}
}

// IsPage reports whether target looks like an http(s) page URL.
func IsPage(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
