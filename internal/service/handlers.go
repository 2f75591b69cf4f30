package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/badge"
	"github.com/lotas/perfdebug/internal/history"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/router"
	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/types"
	"github.com/lotas/perfdebug/internal/window"
)

var (
	ErrUnknownParameter = errors.New("unknown debug parameter")
	ErrNoSenderTab      = errors.New("message has no sender tab")
	ErrProbeDisabled    = errors.New("header probe disabled")
)

func (s *Service) register() {
	r := s.router

	r.Register("analysisResults", router.Status, s.analysisResults)
	r.Register("updateBadge", router.Status, s.updateBadge)
	for _, a := range []string{"updateCLS", "updateLCP", "updateINP", "updateAdditionalMetrics", "tabUrlChanged"} {
		r.Register(a, router.Status, senderOnly)
	}

	r.Register("getAnalysisResults", router.Query, s.getAnalysisResults)
	r.Register("getParameters", router.Query, s.getParameters)
	r.Register("getWindowState", router.Query, s.getWindowState)
	r.Register("isDetachedWindow", router.Query, s.isDetachedWindow)
	r.Register("getTargetTab", router.Query, s.getTargetTab)
	r.Register("getCurrentPerformanceData", router.Query, s.getCurrentPerformanceData)
	r.Register("probeHeaders", router.Query, s.probeHeaders)

	r.Register("updateParameters", router.Command, s.updateParameters)
	r.Register("setParameters", router.Command, s.setParameters)
	r.Register("detachPopup", router.Command, s.detachPopup)
	r.Register("attachPopup", router.Command, s.attachPopup)
	r.Register("focusDetachedWindow", router.Command, s.focusDetachedWindow)
	r.Register("highlightImage", router.Command, s.highlightImage)
}

// senderOnly accepts metric updates from content scripts. They carry no
// state of their own and are only delivered to the display.
func senderOnly(_ context.Context, req *router.Request) (any, error) {
	if req.Sender.Tab == 0 {
		return nil, ErrNoSenderTab
	}
	return nil, nil
}

// tabRef is the optional explicit tab of a popup request.
type tabRef struct {
	TabID types.TabID `json:"tabId"`
}

// target resolves the tab a popup request is about: the explicit tab if
// given, else the bound or active tab.
func (s *Service) target(ctx context.Context, req *router.Request, explicit types.TabID) (types.TabID, error) {
	if explicit != 0 {
		return explicit, nil
	}
	return s.windows.TargetTab(ctx, req.Sender.URL)
}

func (s *Service) analysisResults(_ context.Context, req *router.Request) (any, error) {
	if req.Sender.Tab == 0 {
		return nil, ErrNoSenderTab
	}
	s.store.StoreAnalysis(req.Sender.Tab, req.Payload)
	applog.Info("analysis.stored", "tab", req.Sender.Tab, "url", req.Sender.URL, "bytes", len(req.Payload))

	if s.db == nil || req.Sender.URL == "" {
		return nil, nil
	}
	rev, created, _, err := history.Record(s.db, req.Sender.URL, req.Sender.Tab, req.Payload)
	if err != nil {
		// History is best effort; the store already has the result.
		applog.Error("analysis.history", err, "url", req.Sender.URL)
		return nil, nil
	}
	if created {
		applog.Info("analysis.revision", "url", history.PageKey(req.Sender.URL), "rev", rev)
	}
	return nil, nil
}

func (s *Service) updateBadge(ctx context.Context, req *router.Request) (any, error) {
	if req.Sender.Tab == 0 {
		return nil, ErrNoSenderTab
	}
	var p struct {
		HostedBy    string `json:"hostedBy"`
		CacheStatus string `json:"cacheStatus"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	return nil, s.host.SetBadge(ctx, req.Sender.Tab, badge.For(p.HostedBy, p.CacheStatus))
}

func (s *Service) getAnalysisResults(ctx context.Context, req *router.Request) (any, error) {
	var p tabRef
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	payload, ok := s.store.Analysis(tab)
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (s *Service) getParameters(ctx context.Context, req *router.Request) (any, error) {
	var p tabRef
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	return s.store.Parameters(tab).Sorted(), nil
}

func (s *Service) getWindowState(ctx context.Context, _ *router.Request) (any, error) {
	state, err := s.windows.State(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]types.WindowState{"state": state}, nil
}

func (s *Service) isDetachedWindow(ctx context.Context, req *router.Request) (any, error) {
	var v window.ViewSignals
	if err := req.Decode(&v); err != nil {
		return nil, err
	}
	if v.WindowID == 0 {
		v.WindowID = req.Sender.Window
	}
	detached, err := s.windows.Detect(ctx, v)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"detached": detached}, nil
}

func (s *Service) getTargetTab(ctx context.Context, req *router.Request) (any, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		p.URL = req.Sender.URL
	}
	tab, err := s.windows.TargetTab(ctx, p.URL)
	if errors.Is(err, window.ErrNoTarget) {
		return map[string]any{"tabId": nil}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]types.TabID{"tabId": tab}, nil
}

func (s *Service) getCurrentPerformanceData(ctx context.Context, req *router.Request) (any, error) {
	var p tabRef
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	return s.host.SendToTab(ctx, tab, map[string]string{"action": "getCurrentPerformanceData"})
}

type probeReply struct {
	URL        string            `json:"url"`
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	DurationMS int64             `json:"durationMs"`
	Error      string            `json:"error,omitempty"`
}

func (s *Service) probeHeaders(ctx context.Context, req *router.Request) (any, error) {
	if s.prober == nil {
		return nil, ErrProbeDisabled
	}
	var p struct {
		URL   string      `json:"url"`
		TabID types.TabID `json:"tabId"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		tab, err := s.target(ctx, req, p.TabID)
		if err != nil {
			return nil, err
		}
		t, err := s.host.GetTab(ctx, tab)
		if err != nil {
			return nil, err
		}
		p.URL = t.URL
	}
	res := s.prober.Probe(ctx, p.URL)
	out := probeReply{URL: res.URL, Status: res.Status, Headers: res.Headers, DurationMS: res.Duration.Milliseconds()}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out, nil
}

func (s *Service) checkParameter(name string) error {
	if !s.allowed[name] {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

// updateParameters adds or removes one parameter through the toggle queue
// and replies once the update has been sent to the tab.
func (s *Service) updateParameters(ctx context.Context, req *router.Request) (any, error) {
	var p struct {
		Parameter string      `json:"parameter"`
		Add       bool        `json:"add"`
		TabID     types.TabID `json:"tabId"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	if err := s.checkParameter(p.Parameter); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	done := s.queue.Submit(toggle.Operation{Parameter: p.Parameter, Enabled: p.Add, Tab: tab})
	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		return map[string]bool{"urlChanged": res.URLChanged}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// setParameters moves a tab to a desired toggle set. The dependency rules
// are applied first and one operation is queued per differing toggle.
func (s *Service) setParameters(ctx context.Context, req *router.Request) (any, error) {
	var p struct {
		Parameters []string    `json:"parameters"`
		TabID      types.TabID `json:"tabId"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	for _, n := range p.Parameters {
		if err := s.checkParameter(n); err != nil {
			return nil, err
		}
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	after, _ := toggle.Resolve(toggle.StatesFrom(params.NewSet(p.Parameters...)))
	n := s.enqueue(tab, after)
	return map[string]int{"queued": n}, nil
}

// Flip toggles one parameter of tab, honouring the dependency rules, and
// returns the number of operations queued.
func (s *Service) Flip(tab types.TabID, name string) int {
	before := toggle.StatesFrom(s.store.Parameters(tab))
	return s.enqueue(tab, toggle.Flip(before, name))
}

func (s *Service) enqueue(tab types.TabID, after toggle.States) int {
	before := toggle.StatesFrom(s.store.Parameters(tab))
	ops := toggle.Diff(before, after, tab, time.Now())
	for _, op := range ops {
		s.queue.Enqueue(op)
	}
	return len(ops)
}

// ApplyParameter records op in the store and navigates the tab when its
// URL no longer matches the stored set.
func (s *Service) ApplyParameter(ctx context.Context, op toggle.Operation) (bool, error) {
	tab, err := s.host.GetTab(ctx, op.Tab)
	if err != nil {
		return false, fmt.Errorf("get tab %d: %w", op.Tab, err)
	}
	if s.store.Parameters(op.Tab).Len() == 0 {
		// First flip on this tab: start from the toggles already in its URL.
		seed := params.NewSet()
		for n := range params.FromURL(tab.URL) {
			if s.allowed[n] {
				seed.Add(n)
			}
		}
		s.store.StoreParameters(op.Tab, seed)
	}
	if op.Enabled {
		s.store.AddParameter(op.Tab, op.Parameter)
	} else {
		s.store.RemoveParameter(op.Tab, op.Parameter)
	}
	next, changed := params.NeedsUpdate(tab.URL, s.store.Parameters(op.Tab))
	if !changed {
		return false, nil
	}
	if err := s.host.UpdateTabURL(ctx, op.Tab, next); err != nil {
		return false, fmt.Errorf("update tab %d: %w", op.Tab, err)
	}
	return true, nil
}

func (s *Service) detachPopup(ctx context.Context, req *router.Request) (any, error) {
	var p tabRef
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, fmt.Errorf("detach: %w", err)
	}
	return nil, s.Detach(ctx, tab)
}

func (s *Service) attachPopup(ctx context.Context, _ *router.Request) (any, error) {
	return nil, s.Attach(ctx)
}

// Detach opens the detached window bound to tab. An existing window is
// focused instead; one that has gone away is replaced.
func (s *Service) Detach(ctx context.Context, tab types.TabID) error {
	w, err := s.windows.Detach(ctx, tab)
	if errors.Is(err, window.ErrAlreadyDetached) {
		if s.windows.Focus(ctx) {
			return nil
		}
		w, err = s.windows.Detach(ctx, tab)
	}
	if err != nil {
		return err
	}
	s.announceState(types.Detached)
	applog.Info("popup.detached", "window", w.ID, "tab", tab)
	return nil
}

// Attach closes the detached window, if any.
func (s *Service) Attach(ctx context.Context) error {
	if err := s.windows.Attach(ctx); err != nil {
		return err
	}
	s.announceState(types.Attached)
	return nil
}

func (s *Service) focusDetachedWindow(ctx context.Context, _ *router.Request) (any, error) {
	if s.windows.Focus(ctx) {
		return nil, nil
	}
	s.announceState(types.Attached)
	return router.CommandResult{Success: false, Error: "detached window not found"}, nil
}

func (s *Service) highlightImage(ctx context.Context, req *router.Request) (any, error) {
	var p struct {
		ImageURL string      `json:"imageUrl"`
		TabID    types.TabID `json:"tabId"`
	}
	if err := req.Decode(&p); err != nil {
		return nil, err
	}
	tab, err := s.target(ctx, req, p.TabID)
	if err != nil {
		return nil, err
	}
	raw, err := s.host.SendToTab(ctx, tab, map[string]string{"action": "highlightImage", "imageUrl": p.ImageURL})
	if err != nil {
		return nil, err
	}
	var res router.CommandResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode highlight reply: %w", err)
		}
	}
	return res, nil
}

// announceState tells the display and every extension page about a
// window state change.
func (s *Service) announceState(state types.WindowState) {
	payload := map[string]types.WindowState{"state": state}
	raw, _ := json.Marshal(payload)
	s.publish(Update{Action: UpdateWindowState, Payload: raw})
	if err := s.host.Broadcast(UpdateWindowState, payload); err != nil {
		applog.Error("service.broadcast_state", err, "state", state)
	}
}
