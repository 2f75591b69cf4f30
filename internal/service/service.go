// Package service is the background half of the debugger: it owns the
// per-tab store, the window state machine and the toggle queue, answers
// runtime messages from the extension and reacts to platform events.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/badge"
	"github.com/lotas/perfdebug/internal/probe"
	"github.com/lotas/perfdebug/internal/router"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/tabstate"
	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/types"
	"github.com/lotas/perfdebug/internal/window"
)

// Host is everything the service asks of the browser.
type Host interface {
	window.Host
	toggle.TabStatus
	UpdateTabURL(ctx context.Context, tab types.TabID, url string) error
	SetBadge(ctx context.Context, tab types.TabID, b badge.Badge) error
	SendToTab(ctx context.Context, tab types.TabID, message any) (json.RawMessage, error)
	Broadcast(action string, payload any) error
}

// Replier sends replies back over the transport.
type Replier interface {
	Send(msg server.OutgoingMsg) error
}

// Update is one item of the display feed.
type Update struct {
	Action  string
	Tab     types.TabID
	Payload json.RawMessage
}

// Feed actions published by the service itself.
const (
	UpdateTabRemoved   = "tabRemoved"
	UpdateWindowState  = "windowStateChanged"
	UpdateToggleStart  = "toggleStarted"
	UpdateToggleFinish = "toggleFinished"
	UpdateToggleIdle   = "toggleIdle"
)

// mirrored are the status actions re-broadcast to extension pages while
// the popup is detached.
var mirrored = []string{
	"analysisResults",
	"updateCLS",
	"updateLCP",
	"updateINP",
	"updateAdditionalMetrics",
	"tabUrlChanged",
}

type Options struct {
	Window     window.Defaults
	Toggle     toggle.Settings
	Parameters []string        // accepted debug parameters; empty accepts types.DebugParameters
	DB         *sql.DB         // history database; nil disables history
	Prober     *probe.Prober   // nil disables probeHeaders
	QueueOpts  []toggle.Option // applied after the service's own observer
	Feed       bool            // publish display updates on Updates()

	// MessageTimeout bounds the handling of one event or status message,
	// which runs inline on the message loop. Zero uses DefaultMessageTimeout.
	MessageTimeout time.Duration
}

const DefaultMessageTimeout = 15 * time.Second

type Service struct {
	host    Host
	out     Replier
	store   *tabstate.Store
	windows *window.Manager
	queue   *toggle.Queue
	router  *router.Router
	mirror  *router.Mirror
	db      *sql.DB
	prober  *probe.Prober
	allowed map[string]bool
	feed    bool
	updates chan Update
	timeout time.Duration
}

func New(h Host, kv window.KV, out Replier, opts Options) *Service {
	s := &Service{
		host:    h,
		out:     out,
		store:   tabstate.New(),
		windows: window.NewManager(h, kv, opts.Window),
		router:  router.New(),
		mirror:  router.NewMirror(mirrored...),
		db:      opts.DB,
		prober:  opts.Prober,
		allowed: make(map[string]bool),
		feed:    opts.Feed,
		updates: make(chan Update, 128),
		timeout: opts.MessageTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultMessageTimeout
	}
	names := opts.Parameters
	if len(names) == 0 {
		names = types.DebugParameters
	}
	for _, n := range names {
		s.allowed[n] = true
	}
	qopts := append([]toggle.Option{toggle.WithObserver(s)}, opts.QueueOpts...)
	s.queue = toggle.New(s, h, opts.Toggle, qopts...)
	s.register()
	return s
}

func (s *Service) Store() *tabstate.Store   { return s.store }
func (s *Service) Windows() *window.Manager { return s.windows }
func (s *Service) Queue() *toggle.Queue     { return s.queue }
func (s *Service) Router() *router.Router   { return s.router }

// Updates returns the display feed. It only carries updates when
// Options.Feed is set, and drops them when the reader falls behind.
func (s *Service) Updates() <-chan Update {
	return s.updates
}

// Close stops the waits of the toggle queue.
func (s *Service) Close() {
	s.queue.Close()
}

func (s *Service) publish(u Update) {
	if !s.feed {
		return
	}
	select {
	case s.updates <- u:
	default:
		applog.Warn("service.feed_full", "action", u.Action, "tab", u.Tab)
	}
}

// Run handles messages until ctx is done or msgs is closed.
func (s *Service) Run(ctx context.Context, msgs <-chan server.IncomingMsg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.Handle(ctx, msg)
		}
	}
}

// Handle processes one incoming message. Events and status messages are
// handled in arrival order; queries and commands run on their own
// goroutine and reply when done.
func (s *Service) Handle(ctx context.Context, msg server.IncomingMsg) {
	applog.Debug("service.message", "type", msg.Type, "action", msg.Action, "event", msg.Event, "tab", msg.Sender.TabID)
	switch msg.Type {
	case server.TypeEvent:
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		s.handleEvent(ctx, msg)
	case server.TypeMessage:
		req := requestFrom(msg)
		kind, ok := s.router.Kind(req.Action)
		if !ok {
			applog.Info("service.unknown_action", "action", req.Action, "tab", req.Sender.Tab)
			return
		}
		if kind == router.Status {
			ctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			s.dispatch(ctx, req)
			return
		}
		go s.dispatch(ctx, req)
	}
}

func requestFrom(msg server.IncomingMsg) *router.Request {
	return &router.Request{
		Action: msg.Action,
		ID:     msg.ID,
		Sender: router.Sender{
			Tab:       msg.Sender.TabID,
			Window:    msg.Sender.WindowID,
			URL:       msg.Sender.URL,
			Extension: msg.Sender.Extension,
		},
		Payload: msg.Payload,
	}
}

func (s *Service) dispatch(ctx context.Context, req *router.Request) {
	reply, ok := s.router.Dispatch(ctx, req)
	if !ok {
		return
	}
	if !reply.Respond {
		if reply.Err == nil {
			s.deliver(ctx, req)
		}
		return
	}
	err := s.out.Send(server.OutgoingMsg{
		Type:    server.TypeReply,
		ReplyTo: req.ID,
		Action:  req.Action,
		Payload: reply.Value,
	})
	if err != nil {
		applog.Error("service.reply", err, "action", req.Action, "id", req.ID)
	}
}

// deliver forwards a handled status message to the display feed and,
// while detached, mirrors it to the extension pages. Updates from tabs
// other than the bound one are dropped from both.
func (s *Service) deliver(ctx context.Context, req *router.Request) {
	if req.Sender.Extension {
		return
	}
	b, bound, err := s.windows.Binding(ctx)
	if err != nil {
		applog.Error("service.binding", err, "action", req.Action)
	}
	state := types.Attached
	if bound {
		state = types.Detached
	}
	if !router.Visible(state, b.Tab, req.Sender.Tab) {
		return
	}
	s.publish(Update{Action: req.Action, Tab: req.Sender.Tab, Payload: req.Payload})
	if s.mirror.ShouldMirror(state, req.Action) {
		if err := s.host.Broadcast(req.Action, mirrorPayload(req)); err != nil {
			applog.Error("service.mirror", err, "action", req.Action)
		}
	}
}

// mirrorPayload tags the payload with its source tab so extension pages
// can filter on it.
func mirrorPayload(req *router.Request) any {
	var m map[string]any
	if err := json.Unmarshal(req.Payload, &m); err != nil || m == nil {
		m = make(map[string]any)
	}
	m["tabId"] = req.Sender.Tab
	return m
}

// Started, Finished and Idle report toggle queue progress to the feed.
func (s *Service) Started(op toggle.Operation) {
	s.publish(Update{Action: UpdateToggleStart, Tab: op.Tab})
}

func (s *Service) Finished(op toggle.Operation) {
	s.publish(Update{Action: UpdateToggleFinish, Tab: op.Tab})
}

func (s *Service) Idle() {
	s.publish(Update{Action: UpdateToggleIdle})
}
