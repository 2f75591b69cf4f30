package router

import "github.com/lotas/perfdebug/internal/types"

// Mirror decides which status messages are re-broadcast to every extension
// page while the UI is detached, so the detached window sees live updates
// from the tab it is bound to.
type Mirror struct {
	actions map[string]bool
}

func NewMirror(actions ...string) *Mirror {
	m := &Mirror{actions: make(map[string]bool, len(actions))}
	for _, a := range actions {
		m.actions[a] = true
	}
	return m
}

// ShouldMirror reports whether action is mirrored in the given state.
func (m *Mirror) ShouldMirror(state types.WindowState, action string) bool {
	return state == types.Detached && m.actions[action]
}

// Visible reports whether an update from tab belongs on the display. While
// detached only the bound tab is shown; the store is updated for every tab
// either way.
func Visible(state types.WindowState, bound, tab types.TabID) bool {
	if state != types.Detached {
		return true
	}
	return tab == bound
}
