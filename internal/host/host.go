// Package host drives the browser through the connected extension. Each
// method maps to one extension API call executed by the thin adapter on
// the other end of the WebSocket.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lotas/perfdebug/internal/badge"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/types"
)

// ErrNoActiveTab is returned when the focused window has no active tab.
var ErrNoActiveTab = errors.New("no active tab")

// Caller is the part of server.Server the adapter needs.
type Caller interface {
	Call(ctx context.Context, msg server.OutgoingMsg) (server.IncomingMsg, error)
	Send(msg server.OutgoingMsg) error
}

// DefaultCallTimeout bounds one extension round trip.
const DefaultCallTimeout = 10 * time.Second

// Extension implements the host interfaces of the window manager, the
// toggle queue and the service on top of a Caller.
type Extension struct {
	c       Caller
	timeout time.Duration
}

type Option func(*Extension)

// WithCallTimeout sets how long a call waits for the extension's reply.
// Zero or less keeps DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Extension) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(c Caller, opts ...Option) *Extension {
	e := &Extension{c: c, timeout: DefaultCallTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// roundTrip sends msg and waits for the reply, at most e.timeout.
func (e *Extension) roundTrip(ctx context.Context, msg server.OutgoingMsg) (server.IncomingMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.c.Call(ctx, msg)
}

func (e *Extension) call(ctx context.Context, msg server.OutgoingMsg, dst any) error {
	resp, err := e.roundTrip(ctx, msg)
	if err != nil {
		return err
	}
	if dst == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dst); err != nil {
		return fmt.Errorf("%s: decode result: %w", msg.Action, err)
	}
	return nil
}

func (e *Extension) GetTab(ctx context.Context, id types.TabID) (types.Tab, error) {
	var tab types.Tab
	err := e.call(ctx, server.OutgoingMsg{Action: "tabs.get", TabID: id}, &tab)
	return tab, err
}

// TabStatus reports "loading" or "complete" for the tab.
func (e *Extension) TabStatus(ctx context.Context, id types.TabID) (string, error) {
	tab, err := e.GetTab(ctx, id)
	if err != nil {
		return "", err
	}
	return tab.Status, nil
}

// ActiveTab returns the active tab of the last focused normal window.
func (e *Extension) ActiveTab(ctx context.Context) (types.Tab, error) {
	var tabs []types.Tab
	err := e.call(ctx, server.OutgoingMsg{
		Action:  "tabs.query",
		Payload: map[string]any{"active": true, "lastFocusedWindow": true, "windowType": "normal"},
	}, &tabs)
	if err != nil {
		return types.Tab{}, err
	}
	if len(tabs) == 0 {
		return types.Tab{}, ErrNoActiveTab
	}
	return tabs[0], nil
}

func (e *Extension) UpdateTabURL(ctx context.Context, id types.TabID, url string) error {
	return e.call(ctx, server.OutgoingMsg{Action: "tabs.update", TabID: id, URL: url}, nil)
}

func (e *Extension) CreateWindow(ctx context.Context, spec types.WindowSpec) (types.Window, error) {
	var w types.Window
	err := e.call(ctx, server.OutgoingMsg{Action: "windows.create", Window: &spec}, &w)
	return w, err
}

func (e *Extension) GetWindow(ctx context.Context, id types.WindowID) (types.Window, error) {
	var w types.Window
	err := e.call(ctx, server.OutgoingMsg{Action: "windows.get", WindowID: id}, &w)
	return w, err
}

func (e *Extension) FocusWindow(ctx context.Context, id types.WindowID) error {
	return e.call(ctx, server.OutgoingMsg{
		Action:   "windows.update",
		WindowID: id,
		Payload:  map[string]any{"focused": true},
	}, nil)
}

func (e *Extension) RemoveWindow(ctx context.Context, id types.WindowID) error {
	return e.call(ctx, server.OutgoingMsg{Action: "windows.remove", WindowID: id}, nil)
}

func (e *Extension) SetBadge(ctx context.Context, tab types.TabID, b badge.Badge) error {
	return e.call(ctx, server.OutgoingMsg{Action: "badge.set", TabID: tab, Payload: b}, nil)
}

// SendToTab delivers a runtime message to the content script of tab and
// returns its reply.
func (e *Extension) SendToTab(ctx context.Context, tab types.TabID, message any) (json.RawMessage, error) {
	resp, err := e.roundTrip(ctx, server.OutgoingMsg{Action: "tabs.sendMessage", TabID: tab, Payload: message})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Broadcast mirrors a status message to every extension page. No reply is
// expected.
func (e *Extension) Broadcast(action string, payload any) error {
	return e.c.Send(server.OutgoingMsg{Type: server.TypeBroadcast, Action: action, Payload: payload})
}
