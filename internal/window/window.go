// Package window tracks whether the inspector UI is attached to the
// toolbar button or detached into its own browser window, and keeps that
// record consistent with the windows that actually exist.
//
// The state lives in durable key/value storage so it survives a restart
// of the companion or of the extension's service worker. Every mutation
// goes through Manager, which serializes transitions.
package window

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/types"
)

// Storage keys. The names match what the extension used before the state
// moved into the companion, so existing installs keep their bounds.
const (
	KeyState    = "popup_window_state"
	KeyWindowID = "detached_window_id"
	KeyBounds   = "detached_window_bounds"
	KeyTabID    = "originalTabId"
)

// LaunchParam carries the bound tab id in the detached window's URL.
const LaunchParam = "originalTabId"

var (
	ErrAlreadyDetached = errors.New("popup already detached")
	ErrNoTarget        = errors.New("no target tab")
)

// Host is the browser side of the state machine.
type Host interface {
	CreateWindow(ctx context.Context, spec types.WindowSpec) (types.Window, error)
	GetWindow(ctx context.Context, id types.WindowID) (types.Window, error)
	FocusWindow(ctx context.Context, id types.WindowID) error
	RemoveWindow(ctx context.Context, id types.WindowID) error
	GetTab(ctx context.Context, id types.TabID) (types.Tab, error)
	ActiveTab(ctx context.Context) (types.Tab, error)
}

// KV is the durable store the state is persisted in.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, values map[string]any) error
	Delete(ctx context.Context, keys ...string) error
}

// Defaults shape a new window when no bounds were saved.
type Defaults struct {
	Width  int
	Height int
	Type   string
	Page   string
}

type Manager struct {
	host     Host
	kv       KV
	defaults Defaults
	mu       sync.Mutex
}

func NewManager(host Host, kv KV, defaults Defaults) *Manager {
	if defaults.Width <= 0 {
		defaults.Width = 800
	}
	if defaults.Height <= 0 {
		defaults.Height = 700
	}
	if defaults.Type == "" {
		defaults.Type = "popup"
	}
	if defaults.Page == "" {
		defaults.Page = "popup.html"
	}
	return &Manager{host: host, kv: kv, defaults: defaults}
}

// record is the persisted state as read from the KV store.
type record struct {
	state    types.WindowState
	windowID types.WindowID
	tab      types.TabID
}

func (m *Manager) load(ctx context.Context) (record, error) {
	r := record{state: types.Attached}
	var state string
	if _, err := m.kv.Get(ctx, KeyState, &state); err != nil {
		return r, err
	}
	if state == string(types.Detached) {
		r.state = types.Detached
	}
	if _, err := m.kv.Get(ctx, KeyWindowID, &r.windowID); err != nil {
		return r, err
	}
	if _, err := m.kv.Get(ctx, KeyTabID, &r.tab); err != nil {
		return r, err
	}
	return r, nil
}

// reset returns to Attached and drops the binding. Saved bounds are kept
// for the next detach.
func (m *Manager) reset(ctx context.Context) error {
	if err := m.kv.Set(ctx, map[string]any{KeyState: types.Attached}); err != nil {
		return fmt.Errorf("reset window state: %w", err)
	}
	if err := m.kv.Delete(ctx, KeyWindowID, KeyTabID); err != nil {
		return fmt.Errorf("clear window binding: %w", err)
	}
	return nil
}

// unreachable reports whether err says nothing about the window itself:
// the extension is gone, or the call ran out of time.
func unreachable(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, server.ErrNotConnected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// live loads the record and drops a stale binding: Detached without a
// window id, or with a window the host no longer knows. When the host
// cannot be asked, the persisted record is returned as is.
func (m *Manager) live(ctx context.Context) (record, error) {
	r, err := m.load(ctx)
	if err != nil {
		return r, err
	}
	if r.state != types.Detached && r.windowID == 0 {
		return r, nil
	}
	stale := r.state != types.Detached || r.windowID == 0
	if !stale {
		if _, err := m.host.GetWindow(ctx, r.windowID); err != nil {
			if unreachable(ctx, err) {
				applog.Warn("window.check", "window", r.windowID, "err", err)
				return r, nil
			}
			applog.Info("window.stale", "window", r.windowID, "err", err)
			stale = true
		}
	}
	if stale {
		if err := m.reset(ctx); err != nil {
			return r, err
		}
		return record{state: types.Attached}, nil
	}
	return r, nil
}

// State returns the current state after discarding a stale binding.
func (m *Manager) State(ctx context.Context) (types.WindowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.live(ctx)
	return r.state, err
}

// Binding returns the detached window binding, or false when attached.
func (m *Manager) Binding(ctx context.Context) (types.Binding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.live(ctx)
	if err != nil || r.state != types.Detached {
		return types.Binding{}, false, err
	}
	b := types.Binding{WindowID: r.windowID, Tab: r.tab}
	if _, err := m.kv.Get(ctx, KeyBounds, &b.Bounds); err != nil {
		return b, true, err
	}
	return b, true, nil
}

// SavedBounds returns the last persisted window bounds, if any.
func (m *Manager) SavedBounds(ctx context.Context) (types.Bounds, bool, error) {
	var b types.Bounds
	ok, err := m.kv.Get(ctx, KeyBounds, &b)
	if err != nil || !ok || b.Width <= 0 || b.Height <= 0 {
		return types.Bounds{}, false, err
	}
	return b, true, nil
}

// LaunchURL is the page the detached window opens, with tab encoded so a
// fresh UI instance can recover its binding.
func (m *Manager) LaunchURL(tab types.TabID) string {
	if tab == 0 {
		return m.defaults.Page
	}
	return m.defaults.Page + "?" + LaunchParam + "=" + strconv.Itoa(int(tab))
}

// Detach opens the UI in its own window bound to tab. It fails with
// ErrAlreadyDetached when a live detached window exists and with
// ErrNoTarget when tab is unset. On a window creation error the state
// stays Attached.
func (m *Manager) Detach(ctx context.Context, tab types.TabID) (types.Window, error) {
	if tab <= 0 {
		return types.Window{}, ErrNoTarget
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.live(ctx)
	if err != nil {
		return types.Window{}, err
	}
	if r.state == types.Detached {
		return types.Window{}, ErrAlreadyDetached
	}

	bounds, ok, err := m.SavedBounds(ctx)
	if err != nil {
		applog.Error("window.bounds_load", err)
	}
	if !ok {
		bounds = types.Bounds{Width: m.defaults.Width, Height: m.defaults.Height}
	}
	spec := types.WindowSpec{
		URL:     m.LaunchURL(tab),
		Type:    m.defaults.Type,
		Focused: true,
		Bounds:  bounds,
	}
	w, err := m.host.CreateWindow(ctx, spec)
	if err != nil {
		return types.Window{}, fmt.Errorf("create detached window: %w", err)
	}

	values := map[string]any{KeyState: types.Detached, KeyWindowID: w.ID}
	if tab != 0 {
		values[KeyTabID] = tab
	}
	if err := m.kv.Set(ctx, values); err != nil {
		// Without a record the window would be orphaned.
		if rerr := m.host.RemoveWindow(ctx, w.ID); rerr != nil {
			applog.Error("window.remove_orphan", rerr, "window", w.ID)
		}
		return types.Window{}, fmt.Errorf("persist detached state: %w", err)
	}
	applog.Info("window.detached", "window", w.ID, "tab", tab)
	return w, nil
}

// Attach closes the detached window and returns to Attached. Calling it
// while attached is a no-op. Failing to close the window is logged; the
// state is reset regardless.
func (m *Manager) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return err
	}
	if r.state != types.Detached && r.windowID == 0 {
		return nil
	}
	if r.windowID != 0 {
		m.saveBounds(ctx, r.windowID)
		if err := m.host.RemoveWindow(ctx, r.windowID); err != nil {
			applog.Error("window.remove", err, "window", r.windowID)
		}
	}
	if err := m.reset(ctx); err != nil {
		return err
	}
	applog.Info("window.attached", "window", r.windowID)
	return nil
}

func (m *Manager) saveBounds(ctx context.Context, id types.WindowID) {
	w, err := m.host.GetWindow(ctx, id)
	if err != nil {
		applog.Error("window.bounds_get", err, "window", id)
		return
	}
	if w.Bounds.Width <= 0 || w.Bounds.Height <= 0 {
		return
	}
	if err := m.kv.Set(ctx, map[string]any{KeyBounds: w.Bounds}); err != nil {
		applog.Error("window.bounds_save", err, "window", id)
	}
}

// OnWindowClosed handles the host's window-removed event. It reports
// whether the closed window was the detached one.
func (m *Manager) OnWindowClosed(ctx context.Context, id types.WindowID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	if id == 0 || r.windowID != id {
		return false, nil
	}
	if err := m.reset(ctx); err != nil {
		return true, err
	}
	applog.Info("window.closed", "window", id)
	return true, nil
}

// OnWindowBoundsChanged persists the new bounds of the detached window.
// Other windows are ignored.
func (m *Manager) OnWindowBoundsChanged(ctx context.Context, id types.WindowID, b types.Bounds) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	if id == 0 || r.windowID != id || r.state != types.Detached {
		return false, nil
	}
	if b.Width <= 0 || b.Height <= 0 {
		return false, nil
	}
	if err := m.kv.Set(ctx, map[string]any{KeyBounds: b}); err != nil {
		return false, err
	}
	return true, nil
}

// Focus brings the detached window to the front. A window that no longer
// exists, or refuses focus, is treated as closed and Focus reports false
// so the caller can fall back to the inline popup. An unreachable host
// also reports false but keeps the binding.
func (m *Manager) Focus(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.load(ctx)
	if err != nil {
		applog.Error("window.focus", err)
		return false
	}
	if r.windowID == 0 {
		return false
	}
	_, err = m.host.GetWindow(ctx, r.windowID)
	if err == nil {
		err = m.host.FocusWindow(ctx, r.windowID)
		if err == nil {
			return true
		}
		applog.Error("window.focus", err, "window", r.windowID)
	}
	if unreachable(ctx, err) {
		applog.Warn("window.focus_skipped", "window", r.windowID, "err", err)
		return false
	}
	if err := m.reset(ctx); err != nil {
		applog.Error("window.focus_reset", err)
	}
	return false
}

// IsDetachedWindow reports whether id is the live detached window.
func (m *Manager) IsDetachedWindow(ctx context.Context, id types.WindowID) (bool, error) {
	b, ok, err := m.Binding(ctx)
	if err != nil || !ok {
		return false, err
	}
	return b.WindowID == id, nil
}

// TabFromLaunchURL extracts the bound tab id from a detached window URL.
func TabFromLaunchURL(raw string) (types.TabID, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, false
	}
	v := u.Query().Get(LaunchParam)
	if v == "" {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil || id <= 0 {
		return 0, false
	}
	return types.TabID(id), true
}

// TargetTab resolves which tab the UI should inspect. Detached, it is the
// bound tab: taken from launchURL, else from storage, and verified to
// still exist. Attached, it is the active tab. ErrNoTarget means there is
// nothing to inspect.
func (m *Manager) TargetTab(ctx context.Context, launchURL string) (types.TabID, error) {
	state, err := m.State(ctx)
	if err != nil {
		return 0, err
	}
	if state == types.Detached {
		tab, ok := TabFromLaunchURL(launchURL)
		if !ok {
			if _, err := m.kv.Get(ctx, KeyTabID, &tab); err != nil {
				return 0, err
			}
		}
		if tab == 0 {
			return 0, ErrNoTarget
		}
		if _, err := m.host.GetTab(ctx, tab); err != nil {
			applog.Info("window.bound_tab_gone", "tab", tab, "err", err)
			return 0, ErrNoTarget
		}
		return tab, nil
	}
	t, err := m.host.ActiveTab(ctx)
	if err != nil || t.ID == 0 {
		return 0, ErrNoTarget
	}
	return t.ID, nil
}

// Detect runs DetectDetached against the live state.
func (m *Manager) Detect(ctx context.Context, v ViewSignals) (bool, error) {
	b, ok, err := m.Binding(ctx)
	if err != nil {
		return false, err
	}
	state := types.Attached
	if ok {
		state = types.Detached
	}
	return DetectDetached(v, b.WindowID, state), nil
}
