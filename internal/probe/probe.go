// Package probe fetches pages and reports the caching and hosting headers
// the header panel shows.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/render"
)

// Headers lists the response headers collected from every page.
var Headers = []string{
	"x-bigscoots-cache-status",
	"cf-cache-status",
	"x-hosted-by",
	"x-bigscoots-cache-plan",
	"content-encoding",
	"x-bigscoots-cache-mode",
	"x-ezoic-cdn",
	"x-np-cfe",
}

// O2OKey is the derived header reporting whether cache mode is on.
const O2OKey = "x-bigscoots-cache-mode (O2O)"

var skipPrefixes = []string{"about:", "chrome:", "chrome-extension:", "moz-extension:", "file:", "data:", "view-source:"}

func shouldSkip(url string) bool {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// Result is the outcome of probing one URL.
type Result struct {
	Index    int
	URL      string
	Status   int
	Headers  map[string]string
	Duration time.Duration
	Err      error
}

// HostedBy and CacheStatus return the badge inputs.
func (r Result) HostedBy() string    { return render.HostedBy(r.Headers) }
func (r Result) CacheStatus() string { return render.CacheStatus(r.Headers) }

// Prober issues uncached GET requests.
type Prober struct {
	client      *http.Client
	userAgent   string
	concurrency int
}

func New(timeout time.Duration, concurrency int, userAgent string) *Prober {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent:   userAgent,
		concurrency: concurrency,
	}
}

// Extract reads the probe header list from a response, defaulting each to
// N/A, and adds the derived values.
func Extract(h http.Header) map[string]string {
	out := make(map[string]string, len(Headers)+1)
	for _, name := range Headers {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			v = render.NA
		}
		out[name] = v
	}
	if out["x-bigscoots-cache-mode"] != render.NA {
		out[O2OKey] = "Enabled"
	} else {
		out[O2OKey] = "Disabled"
	}
	if out["x-np-cfe"] != render.NA {
		out["x-np-cfe"] = "Nerdpress active"
	}
	return out
}

// Probe fetches url and collects its headers.
func (p *Prober) Probe(ctx context.Context, url string) Result {
	res := Result{URL: url}
	if shouldSkip(url) {
		res.Err = fmt.Errorf("probe %s: unsupported scheme", url)
		return res
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Err = fmt.Errorf("probe %s: %w", url, err)
		return res
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("probe %s: %w", url, err)
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	res.Duration = time.Since(start)
	res.Status = resp.StatusCode
	res.Headers = Extract(resp.Header)
	applog.Info("probe.done", "url", url, "status", resp.StatusCode, "ms", res.Duration.Milliseconds())
	return res
}

// ProbeAll probes every URL with bounded concurrency and sends one result
// per URL. It returns when all probes finished.
func (p *Prober) ProbeAll(ctx context.Context, urls []string, results chan<- Result) {
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, url string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- Result{Index: idx, URL: url, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			r := p.Probe(ctx, url)
			r.Index = idx
			if r.Err != nil {
				applog.Warn("probe.failed", "url", url, "err", r.Err)
			}
			results <- r
		}(i, u)
	}

	wg.Wait()
}
