package window

import "github.com/lotas/perfdebug/internal/types"

// ViewSignals are the facts a UI page reports about itself when it asks
// whether it runs inside the detached window.
type ViewSignals struct {
	WindowID    types.WindowID `json:"windowId"`
	OuterWidth  int            `json:"outerWidth"`
	OuterHeight int            `json:"outerHeight"`
	Protocol    string         `json:"protocol"` // location.protocol, e.g. "chrome-extension:"
	HasOpener   bool           `json:"hasOpener"`
	Framed      bool           `json:"framed"` // parent !== self
}

// DetachedMinSize is the outer size above which a page cannot be the
// inline toolbar popup.
const DetachedMinSize = 650

// DetectDetached combines four independent checks: the page's window is
// the stored detached window or the persisted state says detached; the
// page is larger than an inline popup can be; it is served from the
// extension; and it is a top-level window nobody opened. All must hold.
func DetectDetached(v ViewSignals, storedWindow types.WindowID, state types.WindowState) bool {
	byID := storedWindow != 0 && v.WindowID == storedWindow
	byState := state == types.Detached
	large := v.OuterWidth > DetachedMinSize || v.OuterHeight > DetachedMinSize
	extensionPage := v.Protocol == "chrome-extension:"
	topLevel := !v.HasOpener && !v.Framed
	return (byID || byState) && large && extensionPage && topLevel
}
