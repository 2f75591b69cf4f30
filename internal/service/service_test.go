package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lotas/perfdebug/internal/badge"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/probe"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/storage"
	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/types"
	"github.com/lotas/perfdebug/internal/window"
)

type broadcast struct {
	action  string
	payload any
}

type fakeHost struct {
	mu         sync.Mutex
	nextID     types.WindowID
	windows    map[types.WindowID]types.Window
	tabs       map[types.TabID]types.Tab
	active     types.TabID
	updated    map[types.TabID]string
	badges     map[types.TabID]badge.Badge
	sent       []any
	broadcasts []broadcast
	tabReply   json.RawMessage
	stall      bool // SetBadge waits for its context instead of answering
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		nextID:  200,
		windows: make(map[types.WindowID]types.Window),
		tabs:    make(map[types.TabID]types.Tab),
		updated: make(map[types.TabID]string),
		badges:  make(map[types.TabID]badge.Badge),
	}
}

func (h *fakeHost) addTab(id types.TabID, url string) {
	h.mu.Lock()
	h.tabs[id] = types.Tab{ID: id, URL: url, Status: "complete"}
	h.mu.Unlock()
}

func (h *fakeHost) CreateWindow(_ context.Context, spec types.WindowSpec) (types.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	w := types.Window{ID: h.nextID, Type: spec.Type, Bounds: spec.Bounds}
	h.windows[w.ID] = w
	return w, nil
}

func (h *fakeHost) GetWindow(_ context.Context, id types.WindowID) (types.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[id]
	if !ok {
		return types.Window{}, errors.New("No window with id")
	}
	return w, nil
}

func (h *fakeHost) FocusWindow(context.Context, types.WindowID) error { return nil }

func (h *fakeHost) RemoveWindow(_ context.Context, id types.WindowID) error {
	h.mu.Lock()
	delete(h.windows, id)
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) GetTab(_ context.Context, id types.TabID) (types.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return types.Tab{}, errors.New("No tab with id")
	}
	return t, nil
}

func (h *fakeHost) ActiveTab(ctx context.Context) (types.Tab, error) {
	return h.GetTab(ctx, h.active)
}

func (h *fakeHost) TabStatus(ctx context.Context, id types.TabID) (string, error) {
	t, err := h.GetTab(ctx, id)
	return t.Status, err
}

func (h *fakeHost) UpdateTabURL(_ context.Context, id types.TabID, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated[id] = url
	t := h.tabs[id]
	t.URL = url
	h.tabs[id] = t
	return nil
}

func (h *fakeHost) SetBadge(ctx context.Context, tab types.TabID, b badge.Badge) error {
	h.mu.Lock()
	stall := h.stall
	h.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	h.mu.Lock()
	h.badges[tab] = b
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) SendToTab(_ context.Context, _ types.TabID, message any) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, message)
	return h.tabReply, nil
}

func (h *fakeHost) Broadcast(action string, payload any) error {
	h.mu.Lock()
	h.broadcasts = append(h.broadcasts, broadcast{action, payload})
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) broadcastActions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, b := range h.broadcasts {
		out = append(out, b.action)
	}
	return out
}

type replies struct {
	ch chan server.OutgoingMsg
}

func (r *replies) Send(msg server.OutgoingMsg) error {
	r.ch <- msg
	return nil
}

func (r *replies) next(t *testing.T) server.OutgoingMsg {
	t.Helper()
	select {
	case m := <-r.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return server.OutgoingMsg{}
	}
}

// instantClock never waits.
type instantClock struct{}

func (instantClock) Now() time.Time { return time.Unix(0, 0) }

func (instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T, h *fakeHost, tweaks ...func(*Options)) (*Service, *replies, *sql.DB) {
	t.Helper()
	db := testDB(t)
	r := &replies{ch: make(chan server.OutgoingMsg, 16)}
	opts := Options{
		Window:    window.Defaults{Width: 800, Height: 700, Type: "popup", Page: "popup.html"},
		Toggle:    toggle.Settings{PollInterval: time.Millisecond, LoadTimeout: time.Second},
		DB:        db,
		QueueOpts: []toggle.Option{toggle.WithClock(instantClock{})},
		Feed:      true,
	}
	for _, tw := range tweaks {
		tw(&opts)
	}
	s := New(h, storage.NewKV(db), r, opts)
	t.Cleanup(s.Close)
	return s, r, db
}

func message(action string, tab types.TabID, url string, payload string) server.IncomingMsg {
	msg := server.IncomingMsg{
		Type:   server.TypeMessage,
		ID:     "m-" + action,
		Action: action,
		Sender: server.Sender{TabID: tab, URL: url},
	}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}
	return msg
}

func popupMessage(action, payload string) server.IncomingMsg {
	msg := message(action, 0, "chrome-extension://abc/popup.html", payload)
	msg.Sender.Extension = true
	return msg
}

func encode(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func drain(s *Service) []Update {
	var out []Update
	for {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestAnalysisResultsStoredAndQueried(t *testing.T) {
	h := newFakeHost()
	s, r, db := newTestService(t, h)
	ctx := context.Background()

	payload := `{"action":"analysisResults","headers":{"x-hosted-by":"BigScoots"},"cls":{"value":0.02}}`
	s.Handle(ctx, message("analysisResults", 5, "https://example.com/post?nocache=", payload))

	s.Handle(ctx, popupMessage("getAnalysisResults", `{"tabId":5}`))
	reply := r.next(t)
	if reply.Type != server.TypeReply || reply.ReplyTo != "m-getAnalysisResults" {
		t.Errorf("reply envelope: got %+v", reply)
	}
	if got := encode(t, reply.Payload); got != payload {
		t.Errorf("payload: got %s, want %s", got, payload)
	}

	list, err := storage.ListAnalyses(db, "https://example.com/post")
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(list) != 1 || list[0].Label != "nocache" {
		t.Errorf("history: got %+v", list)
	}

	updates := drain(s)
	if len(updates) != 1 || updates[0].Action != "analysisResults" || updates[0].Tab != 5 {
		t.Errorf("feed: got %+v", updates)
	}
}

func TestQueryForUnknownTabRepliesNull(t *testing.T) {
	h := newFakeHost()
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("getAnalysisResults", `{"tabId":99}`))
	if reply := r.next(t); reply.Payload != nil {
		t.Errorf("got %v, want nil payload", reply.Payload)
	}
}

func TestUpdateBadge(t *testing.T) {
	h := newFakeHost()
	s, _, _ := newTestService(t, h)

	s.Handle(context.Background(), message("updateBadge", 3, "https://example.com/", `{"hostedBy":"BigScoots","cacheStatus":"HIT"}`))

	b, ok := h.badges[3]
	if !ok {
		t.Fatal("no badge set for tab 3")
	}
	if b.TextColor != badge.Blue || b.Text != badge.Text {
		t.Errorf("badge: got %+v", b)
	}
}

func TestStalledHostDoesNotBlockMessageLoop(t *testing.T) {
	h := newFakeHost()
	h.stall = true
	s, _, _ := newTestService(t, h, func(o *Options) { o.MessageTimeout = 20 * time.Millisecond })
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		s.Handle(ctx, message("updateBadge", 3, "https://example.com/", `{"hostedBy":"BigScoots"}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updateBadge still blocking the message loop")
	}

	// The loop keeps serving later messages.
	s.Store().StoreParameters(3, params.NewSet("nocache"))
	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventTabRemoved, TabID: 3})
	if s.Store().Parameters(3).Len() != 0 {
		t.Error("parameters survived tab removal")
	}
}

func TestUnknownActionNoReply(t *testing.T) {
	h := newFakeHost()
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("doSomethingElse", `{}`))
	select {
	case m := <-r.ch:
		t.Errorf("unexpected reply %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateParametersAppliesThroughQueue(t *testing.T) {
	h := newFakeHost()
	h.addTab(3, "https://example.com/?foo=1")
	h.active = 3
	s, r, _ := newTestService(t, h)
	ctx := context.Background()

	s.Handle(ctx, popupMessage("updateParameters", `{"parameter":"nocache","add":true}`))
	reply := r.next(t)
	if got := encode(t, reply.Payload); got != `{"urlChanged":true}` {
		t.Errorf("reply: got %s", got)
	}
	if got := h.updated[3]; got != "https://example.com/?nocache=" {
		t.Errorf("tab url: got %q", got)
	}

	s.Handle(ctx, popupMessage("getParameters", ``))
	if got := encode(t, r.next(t).Payload); got != `["nocache"]` {
		t.Errorf("getParameters: got %s", got)
	}

	// Adding it again leaves the URL alone.
	s.Handle(ctx, popupMessage("updateParameters", `{"parameter":"nocache","add":true,"tabId":3}`))
	if got := encode(t, r.next(t).Payload); got != `{"urlChanged":false}` {
		t.Errorf("repeat reply: got %s", got)
	}
}

func TestUpdateParametersKeepsOnlyDebugKeys(t *testing.T) {
	h := newFakeHost()
	h.addTab(3, "https://x/?p=1&nocache=")
	s, r, _ := newTestService(t, h)
	ctx := context.Background()

	s.Handle(ctx, popupMessage("updateParameters", `{"parameter":"nocache","add":false,"tabId":3}`))
	if got := encode(t, r.next(t).Payload); got != `{"urlChanged":true}` {
		t.Errorf("remove reply: got %s", got)
	}
	if got := h.updated[3]; got != "https://x/" {
		t.Errorf("remove url: got %q", got)
	}
	if s.Store().Parameters(3).Len() != 0 {
		t.Errorf("store: got %v", s.Store().Parameters(3).Sorted())
	}

	s.Handle(ctx, popupMessage("updateParameters", `{"parameter":"nocache","add":true,"tabId":3}`))
	if got := encode(t, r.next(t).Payload); got != `{"urlChanged":true}` {
		t.Errorf("add reply: got %s", got)
	}
	if got := h.updated[3]; got != "https://x/?nocache=" {
		t.Errorf("add url: got %q", got)
	}
}

func TestUpdateParametersSeedsFromURLWithExtraKeys(t *testing.T) {
	h := newFakeHost()
	h.addTab(3, "https://x/?p=1&nocache=")
	s, r, _ := newTestService(t, h)

	// nocache is already on; the extra key alone still forces a rewrite.
	s.Handle(context.Background(), popupMessage("updateParameters", `{"parameter":"perfmattersjsoff","add":true,"tabId":3}`))
	if got := encode(t, r.next(t).Payload); got != `{"urlChanged":true}` {
		t.Errorf("reply: got %s", got)
	}
	if got := h.updated[3]; got != "https://x/?nocache=&perfmattersjsoff=" {
		t.Errorf("url: got %q", got)
	}
}

func TestUpdateParametersRejectsUnknown(t *testing.T) {
	h := newFakeHost()
	h.addTab(3, "https://example.com/")
	h.active = 3
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("updateParameters", `{"parameter":"debug","add":true}`))
	got := encode(t, r.next(t).Payload)
	if got != `{"success":false,"error":"unknown debug parameter: \"debug\""}` {
		t.Errorf("got %s", got)
	}
}

func TestFlipHonoursDependencies(t *testing.T) {
	h := newFakeHost()
	h.addTab(4, "https://example.com/")
	s, _, _ := newTestService(t, h)
	s.Store().StoreParameters(4, params.NewSet(types.ParamNoCache, types.ParamPerfmattersCSSOff))

	// perfmattersoff forces the CSS toggle and nocache off.
	if n := s.Flip(4, types.ParamPerfmattersOff); n != 3 {
		t.Errorf("queued: got %d, want 3", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Queue().Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := s.Store().Parameters(4).Sorted(); len(got) != 1 || got[0] != types.ParamPerfmattersOff {
		t.Errorf("params: got %v", got)
	}
	if got := h.updated[4]; got != "https://example.com/?perfmattersoff=" {
		t.Errorf("tab url: got %q", got)
	}
}

func TestTabRemovedClearsState(t *testing.T) {
	h := newFakeHost()
	s, _, _ := newTestService(t, h)
	ctx := context.Background()

	s.Handle(ctx, message("analysisResults", 6, "", `{"cls":{"value":0.1}}`))
	s.Store().StoreParameters(6, params.NewSet("nocache"))
	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventTabRemoved, TabID: 6})

	if _, ok := s.Store().Analysis(6); ok {
		t.Error("analysis survived tab removal")
	}
	if s.Store().Parameters(6).Len() != 0 {
		t.Error("parameters survived tab removal")
	}
}

func TestBeforeNavigateKeepsStickyParameters(t *testing.T) {
	h := newFakeHost()
	s, _, _ := newTestService(t, h)
	ctx := context.Background()
	s.Store().StoreParameters(4, params.NewSet("nocache"))

	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventBeforeNavigate, TabID: 4, FrameID: 1, URL: "https://example.com/frame"})
	if _, ok := h.updated[4]; ok {
		t.Error("subframe navigation should be ignored")
	}

	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventBeforeNavigate, TabID: 4, URL: "https://example.com/next"})
	if got := h.updated[4]; got != "https://example.com/next?nocache=" {
		t.Errorf("got %q", got)
	}

	delete(h.updated, 4)
	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventBeforeNavigate, TabID: 4, URL: "https://example.com/next?nocache="})
	if _, ok := h.updated[4]; ok {
		t.Error("navigation already carrying the parameters should not be redirected")
	}
}

func TestDetachMirrorsBoundTabOnly(t *testing.T) {
	h := newFakeHost()
	h.addTab(7, "https://example.com/")
	h.addTab(8, "https://other.example/")
	h.active = 7
	s, r, _ := newTestService(t, h)
	ctx := context.Background()

	s.Handle(ctx, popupMessage("detachPopup", ``))
	if got := encode(t, r.next(t).Payload); got != `{"success":true}` {
		t.Fatalf("detach reply: got %s", got)
	}
	s.Handle(ctx, popupMessage("getWindowState", ``))
	if got := encode(t, r.next(t).Payload); got != `{"state":"detached"}` {
		t.Errorf("state: got %s", got)
	}
	drain(s)

	s.Handle(ctx, message("updateCLS", 7, "https://example.com/", `{"value":0.3,"rating":"poor"}`))
	s.Handle(ctx, message("updateCLS", 8, "https://other.example/", `{"value":0.01,"rating":"good"}`))

	updates := drain(s)
	if len(updates) != 1 || updates[0].Tab != 7 {
		t.Errorf("feed: got %+v, want only tab 7", updates)
	}
	var mirrored int
	for _, a := range h.broadcastActions() {
		if a == "updateCLS" {
			mirrored++
		}
	}
	if mirrored != 1 {
		t.Errorf("mirrored updateCLS %d times, want 1", mirrored)
	}

	b, ok, err := s.Windows().Binding(ctx)
	if err != nil || !ok {
		t.Fatalf("Binding: ok=%v err=%v", ok, err)
	}
	s.Handle(ctx, server.IncomingMsg{Type: server.TypeEvent, Event: EventWindowRemoved, WindowID: b.WindowID})
	state, err := s.Windows().State(ctx)
	if err != nil || state != types.Attached {
		t.Errorf("after close: state=%v err=%v", state, err)
	}
	actions := h.broadcastActions()
	if actions[len(actions)-1] != UpdateWindowState {
		t.Errorf("last broadcast: got %q", actions[len(actions)-1])
	}
}

func TestDetachWithoutTargetIsRefused(t *testing.T) {
	h := newFakeHost()
	s, r, _ := newTestService(t, h)
	ctx := context.Background()

	s.Handle(ctx, popupMessage("detachPopup", ``))
	if got := encode(t, r.next(t).Payload); got != `{"success":false,"error":"detach: no target tab"}` {
		t.Errorf("detach reply: got %s", got)
	}
	if len(h.windows) != 0 {
		t.Errorf("windows created: %v", h.windows)
	}
	state, err := s.Windows().State(ctx)
	if err != nil || state != types.Attached {
		t.Errorf("state=%v err=%v", state, err)
	}
	if err := s.Detach(ctx, 0); !errors.Is(err, window.ErrNoTarget) {
		t.Errorf("Detach(0): got %v, want ErrNoTarget", err)
	}
}

func TestAttachedDoesNotMirror(t *testing.T) {
	h := newFakeHost()
	s, _, _ := newTestService(t, h)

	s.Handle(context.Background(), message("updateLCP", 2, "https://example.com/", `{"value":1800}`))
	if got := h.broadcastActions(); len(got) != 0 {
		t.Errorf("broadcasts while attached: %v", got)
	}
	if updates := drain(s); len(updates) != 1 {
		t.Errorf("feed: got %+v", updates)
	}
}

func TestFocusDetachedWindowMissing(t *testing.T) {
	h := newFakeHost()
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("focusDetachedWindow", ``))
	if got := encode(t, r.next(t).Payload); got != `{"success":false,"error":"detached window not found"}` {
		t.Errorf("got %s", got)
	}
}

func TestHighlightImageForwardsToTab(t *testing.T) {
	h := newFakeHost()
	h.addTab(9, "https://example.com/")
	h.tabReply = json.RawMessage(`{"success":true}`)
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("highlightImage", `{"imageUrl":"https://example.com/a.jpg","tabId":9}`))
	if got := encode(t, r.next(t).Payload); got != `{"success":true}` {
		t.Errorf("reply: got %s", got)
	}
	if len(h.sent) != 1 || encode(t, h.sent[0]) != `{"action":"highlightImage","imageUrl":"https://example.com/a.jpg"}` {
		t.Errorf("sent: got %v", h.sent)
	}
}

func TestProbeHeadersUsesTabURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Hosted-By", "BigScoots")
		w.Header().Set("X-Bigscoots-Cache-Status", "HIT")
	}))
	defer ts.Close()

	h := newFakeHost()
	h.addTab(2, ts.URL+"/")
	h.active = 2
	s, r, _ := newTestService(t, h)
	s.prober = probe.New(2*time.Second, 1, "perfdebug-test")

	s.Handle(context.Background(), popupMessage("probeHeaders", ``))
	reply, ok := r.next(t).Payload.(probeReply)
	if !ok {
		t.Fatal("reply is not a probe result")
	}
	if reply.Status != http.StatusOK || reply.Error != "" {
		t.Errorf("status=%d err=%q", reply.Status, reply.Error)
	}
	if reply.Headers["x-hosted-by"] != "BigScoots" || reply.Headers["cf-cache-status"] != "N/A" {
		t.Errorf("headers: got %v", reply.Headers)
	}
}

func TestProbeHeadersDisabled(t *testing.T) {
	h := newFakeHost()
	s, r, _ := newTestService(t, h)

	s.Handle(context.Background(), popupMessage("probeHeaders", `{"url":"https://example.com/"}`))
	if reply := r.next(t); reply.Payload != nil {
		t.Errorf("got %v, want null", reply.Payload)
	}
}
