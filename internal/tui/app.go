package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/server"
	"github.com/lotas/perfdebug/internal/service"
	"github.com/lotas/perfdebug/internal/toggle"
	"github.com/lotas/perfdebug/internal/types"
)

// --- Messages ---

type feedMsg struct{ u service.Update }

type feedClosedMsg struct{}

type stateMsg struct {
	state types.WindowState
	bound types.TabID
	err   error
}

type actionDoneMsg struct {
	text string
	err  error
}

type tickMsg struct{}

// --- Command helpers ---

func listenFeed(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-svc.Updates()
		if !ok {
			return feedClosedMsg{}
		}
		return feedMsg{u: u}
	}
}

func loadState(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b, ok, err := svc.Windows().Binding(ctx)
		if err != nil {
			return stateMsg{state: types.Attached, err: err}
		}
		if !ok {
			return stateMsg{state: types.Attached}
		}
		return stateMsg{state: types.Detached, bound: b.Tab}
	}
}

func detach(svc *service.Service, tab types.TabID) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Detach(ctx, tab); err != nil {
			return actionDoneMsg{err: fmt.Errorf("detach: %w", err)}
		}
		return actionDoneMsg{text: "Popup detached"}
	}
}

func attach(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Attach(ctx); err != nil {
			return actionDoneMsg{err: fmt.Errorf("attach: %w", err)}
		}
		return actionDoneMsg{text: "Popup attached"}
	}
}

// tick polls the connection state the server does not report as events.
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

// --- Model ---

// Conn reports whether the extension is connected.
type Conn interface {
	Connected() bool
	Port() int
}

type Model struct {
	svc  *service.Service
	conn Conn

	// Display
	panel    Panel
	tab      types.TabID
	url      string
	analysis *types.Analysis
	state    types.WindowState
	bound    types.TabID

	// Debug panel
	cursor int
	busy   bool

	detail    DetailModel
	connected bool
	status    string
	err       error
	width     int
	height    int
}

func NewModel(svc *service.Service, conn Conn) Model {
	return Model{
		svc:   svc,
		conn:  conn,
		state: types.Attached,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(listenFeed(m.svc), loadState(m.svc), tick())
}

// visible reports whether updates from tab belong on screen.
func (m Model) visible(tab types.TabID) bool {
	if m.state == types.Detached {
		return tab == m.bound
	}
	return true
}

// show switches the display to tab and reloads its analysis.
func (m *Model) show(tab types.TabID) {
	if tab != m.tab {
		m.detail.ResetScroll()
		m.url = ""
	}
	m.tab = tab
	m.analysis = nil
	if tab == 0 {
		return
	}
	payload, ok := m.svc.Store().Analysis(tab)
	if !ok {
		return
	}
	a, err := types.DecodeAnalysis(payload)
	if err != nil {
		applog.Error("tui.decode_analysis", err, "tab", tab)
		return
	}
	m.analysis = a
}

// cycleTab moves to the next or previous analyzed tab. Disabled while
// detached: the display stays on the bound tab.
func (m *Model) cycleTab(step int) {
	if m.state == types.Detached {
		return
	}
	tabs := m.svc.Store().Tabs()
	if len(tabs) == 0 {
		return
	}
	i := 0
	for j, t := range tabs {
		if t == m.tab {
			i = j
			break
		}
	}
	i = (i + step + len(tabs)) % len(tabs)
	m.show(tabs[i])
}

func (m *Model) applyUpdate(u service.Update) {
	switch u.Action {
	case service.UpdateToggleStart:
		m.busy = true
		return
	case service.UpdateToggleFinish:
		return
	case service.UpdateToggleIdle:
		m.busy = false
		m.status = ""
		return
	case service.UpdateTabRemoved:
		if u.Tab == m.tab {
			m.show(0)
			m.cycleTab(1)
		}
		return
	}
	if u.Tab == 0 || !m.visible(u.Tab) {
		return
	}

	switch u.Action {
	case "analysisResults":
		if m.tab == 0 || m.tab == u.Tab || m.state == types.Attached {
			m.show(u.Tab)
		}
		return
	case "tabUrlChanged":
		var p struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(u.Payload, &p) == nil && u.Tab == m.tab {
			m.url = p.URL
		}
		return
	}

	if u.Tab != m.tab || m.analysis == nil {
		return
	}
	// Live metric updates carry their fields at the top level.
	var err error
	switch u.Action {
	case "updateCLS":
		var c types.CLS
		if err = json.Unmarshal(u.Payload, &c); err == nil {
			m.analysis.CLS = &c
		}
	case "updateLCP":
		var l types.LCP
		if err = json.Unmarshal(u.Payload, &l); err == nil {
			m.analysis.LCP = &l
		}
	case "updateINP":
		var in types.INP
		if err = json.Unmarshal(u.Payload, &in); err == nil {
			m.analysis.INP = &in
		}
	case "updateAdditionalMetrics":
		var p struct {
			Metrics types.AdditionalMetrics `json:"metrics"`
		}
		if err = json.Unmarshal(u.Payload, &p); err == nil {
			m.analysis.AdditionalMetrics = &p.Metrics
		}
	}
	if err != nil {
		applog.Error("tui.decode_update", err, "action", u.Action, "tab", u.Tab)
	}
}

func (m Model) toggleStates() toggle.States {
	return toggle.StatesFrom(m.svc.Store().Parameters(m.tab))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail.Width = m.width - 4
		m.detail.Height = m.height - 8 // bars, page summary and borders
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "right", "l":
			m.panel = m.panel.next()
			m.detail.ResetScroll()
		case "shift+tab", "left", "h":
			m.panel = m.panel.prev()
			m.detail.ResetScroll()
		case "1", "2", "3", "4", "5":
			m.panel = Panel(msg.String()[0] - '1')
			m.detail.ResetScroll()
		case "up", "k":
			if m.panel == PanelDebug {
				if m.cursor > 0 {
					m.cursor--
				}
			} else {
				m.detail.ScrollUp()
			}
		case "down", "j":
			if m.panel == PanelDebug {
				if m.cursor < len(types.DebugParameters)-1 {
					m.cursor++
				}
			} else {
				m.detail.ContentLen = strings.Count(m.body(), "\n") + 1
				m.detail.ScrollDown()
			}
		case " ", "enter":
			if m.panel != PanelDebug || m.tab == 0 || m.busy || m.svc.Queue().Busy() {
				return m, nil
			}
			name := types.DebugParameters[m.cursor]
			if n := m.svc.Flip(m.tab, name); n > 0 {
				m.busy = true
				m.status = fmt.Sprintf("Toggling %s", name)
			}
		case "[":
			m.cycleTab(-1)
		case "]":
			m.cycleTab(1)
		case "d":
			if m.state == types.Detached {
				return m, nil
			}
			return m, detach(m.svc, m.tab)
		case "a":
			if m.state == types.Attached {
				return m, nil
			}
			return m, attach(m.svc)
		case "r":
			m.show(m.tab)
		}
		return m, nil

	case feedMsg:
		if msg.u.Action == service.UpdateWindowState {
			return m, tea.Batch(loadState(m.svc), listenFeed(m.svc))
		}
		m.applyUpdate(msg.u)
		return m, listenFeed(m.svc)

	case feedClosedMsg:
		return m, nil

	case stateMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		m.state = msg.state
		m.bound = msg.bound
		if m.state == types.Detached && m.bound != 0 {
			m.show(m.bound)
		}
		return m, nil

	case actionDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.text
		}
		return m, nil

	case tickMsg:
		if m.conn != nil {
			m.connected = m.conn.Connected()
		}
		m.busy = m.svc.Queue().Busy()
		return m, tick()
	}

	return m, nil
}

// body renders the unscrolled content of the active panel.
func (m Model) body() string {
	if m.panel != PanelDebug {
		return m.detail.ViewPanel(m.panel, m.analysis)
	}
	current := ""
	if op, ok := m.svc.Queue().Current(); ok {
		current = op.Parameter
	}
	return renderDebug(debugView{
		States:  m.toggleStates(),
		Cursor:  m.cursor,
		Busy:    m.busy,
		Current: current,
		Pending: m.svc.Queue().Pending(),
	})
}

func (m Model) counts() [panelCount]int {
	var c [panelCount]int
	if m.analysis != nil {
		c[PanelImages] = len(m.analysis.Images)
		c[PanelFonts] = len(m.analysis.Fonts)
		c[PanelInsights] = len(m.analysis.PluginRecommendations)
	}
	return c
}

func (m Model) View() string {
	if m.width == 0 {
		return "\n  Starting...\n"
	}

	// Top bar
	topBarStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	var connStr string
	port := 0
	if m.conn != nil {
		port = m.conn.Port()
	}
	if m.connected {
		connStr = fmt.Sprintf("perfdebug ● connected :%d", port)
	} else {
		connStr = fmt.Sprintf("perfdebug ○ waiting for extension on :%d...", port)
	}
	stateStr := "attached"
	if m.state == types.Detached {
		stateStr = fmt.Sprintf("detached · bound to tab %d", m.bound)
	}
	topBar := topBarStyle.Render(connStr + "  " + stateStr)
	navbar := renderNavbar(m.panel, m.counts(), m.panel.String(), m.width)

	page := m.detail.ViewPage(m.tab, m.url, m.analysis)

	body := m.detail.ViewScrolled(m.body())

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.detail.Width).
		Height(m.detail.Height + 2)
	pane := border.Render(page + "\n\n" + body)

	// Bottom bar
	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	var bottomText string
	if m.err != nil {
		bottomText = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("Error: "+m.err.Error()) + "  "
	} else if m.status != "" {
		bottomText = m.status + "  "
	}
	bottomText += "tab/1-5 panel · ↑↓/jk scroll · "
	if m.state == types.Detached {
		bottomText += "a attach · "
	} else {
		bottomText += "[ ] page · d detach · "
	}
	bottomText += "r refresh · q quit"
	bottomBar := bottomBarStyle.Render(bottomText)

	return lipgloss.JoinVertical(lipgloss.Left, topBar, navbar, pane, bottomBar)
}

var _ Conn = (*server.Server)(nil)
