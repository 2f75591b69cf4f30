package service

import (
	"context"
	"encoding/json"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/types"
)

// Platform events forwarded by the extension.
const (
	EventTabRemoved     = "tabs.onRemoved"
	EventWindowRemoved  = "windows.onRemoved"
	EventBoundsChanged  = "windows.onBoundsChanged"
	EventBeforeNavigate = "webNavigation.onBeforeNavigate"
)

func (s *Service) handleEvent(ctx context.Context, msg server.IncomingMsg) {
	switch msg.Event {
	case EventTabRemoved:
		s.store.ClearTab(msg.TabID)
		applog.Info("tab.removed", "tab", msg.TabID)
		s.publish(Update{Action: UpdateTabRemoved, Tab: msg.TabID})

	case EventWindowRemoved:
		closed, err := s.windows.OnWindowClosed(ctx, msg.WindowID)
		if err != nil {
			applog.Error("window.on_removed", err, "window", msg.WindowID)
		}
		if closed {
			s.announceState(types.Attached)
		}

	case EventBoundsChanged:
		if msg.Bounds == nil {
			return
		}
		if _, err := s.windows.OnWindowBoundsChanged(ctx, msg.WindowID, *msg.Bounds); err != nil {
			applog.Error("window.on_bounds", err, "window", msg.WindowID)
		}

	case EventBeforeNavigate:
		s.beforeNavigate(ctx, msg)

	default:
		applog.Info("service.unknown_event", "event", msg.Event)
	}
}

// beforeNavigate keeps the tab's sticky parameters on main-frame
// navigations. The tab is only redirected when names were missing.
func (s *Service) beforeNavigate(ctx context.Context, msg server.IncomingMsg) {
	if msg.FrameID != 0 || msg.TabID == 0 {
		return
	}
	sticky := s.store.Parameters(msg.TabID)
	next, changed := params.MergeOnNavigate(msg.URL, sticky)
	if !changed {
		return
	}
	if err := s.host.UpdateTabURL(ctx, msg.TabID, next); err != nil {
		applog.Error("navigate.reapply", err, "tab", msg.TabID)
		return
	}
	applog.Info("navigate.reapply", "tab", msg.TabID, "url", next)
	raw, _ := json.Marshal(map[string]string{"url": next})
	s.publish(Update{Action: "tabUrlChanged", Tab: msg.TabID, Payload: raw})
}
