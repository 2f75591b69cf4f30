package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/types"
	"nhooyr.io/websocket"
)

// Incoming message types.
const (
	TypeMessage  = "message"  // runtime message forwarded by the extension
	TypeEvent    = "event"    // platform event (tab removed, window moved, ...)
	TypeResponse = "response" // result of a command we sent
)

// Outgoing message types.
const (
	TypeCommand   = "command"
	TypeReply     = "reply"
	TypeBroadcast = "broadcast"
)

// ErrNotConnected is returned by Call and Send when no extension is
// connected.
var ErrNotConnected = errors.New("extension not connected")

// Sender describes where a runtime message came from.
type Sender struct {
	TabID     types.TabID    `json:"tabId,omitempty"`
	WindowID  types.WindowID `json:"windowId,omitempty"`
	URL       string         `json:"url,omitempty"`
	Extension bool           `json:"extension,omitempty"` // popup or detached window page
}

// IncomingMsg is a message from the extension to the companion.
type IncomingMsg struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Runtime message fields. Payload holds the whole original request.
	Action  string          `json:"action,omitempty"`
	Sender  Sender          `json:"sender,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event    string         `json:"event,omitempty"`
	TabID    types.TabID    `json:"tabId,omitempty"`
	WindowID types.WindowID `json:"windowId,omitempty"`
	FrameID  int            `json:"frameId,omitempty"`
	URL      string         `json:"url,omitempty"`
	Status   string         `json:"status,omitempty"`
	Bounds   *types.Bounds  `json:"bounds,omitempty"`

	// Command response fields
	OK     *bool           `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// OutgoingMsg is a command, reply or broadcast from the companion to the
// extension.
type OutgoingMsg struct {
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type"`
	Action   string            `json:"action,omitempty"`
	ReplyTo  string            `json:"replyTo,omitempty"`
	TabID    types.TabID       `json:"tabId,omitempty"`
	WindowID types.WindowID    `json:"windowId,omitempty"`
	URL      string            `json:"url,omitempty"`
	Window   *types.WindowSpec `json:"window,omitempty"`
	Bounds   *types.Bounds     `json:"bounds,omitempty"`
	Payload  any               `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Server manages the WebSocket connection to the extension.
type Server struct {
	port    int
	msgs    chan IncomingMsg
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
	nextID  atomic.Int64
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		msgs:    make(chan IncomingMsg, 256),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of runtime messages and events from the
// extension. Command responses are not delivered here.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// NextID returns a fresh command id.
func (s *Server) NextID() string {
	return fmt.Sprintf("cmd-%d", s.nextID.Add(1))
}

// Send writes msg to the connected extension without waiting for a reply.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	applog.Debug("ws.send", "type", msg.Type, "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Call sends a command and waits for the matching response. A response
// with ok=false is returned as an error carrying the extension's message.
func (s *Server) Call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	if msg.ID == "" {
		msg.ID = s.NextID()
	}
	msg.Type = TypeCommand

	ch := make(chan IncomingMsg, 1)
	s.mu.Lock()
	s.pending[msg.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, err)
	}

	select {
	case resp := <-ch:
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

// resolve hands a command response to its waiting caller. Responses
// nobody waits for are dropped.
func (s *Server) resolve(msg IncomingMsg) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	s.mu.Unlock()
	if !ok {
		applog.Info("ws.orphan_response", "id", msg.ID)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// failPending answers every in-flight call with a disconnect error.
func (s *Server) failPending() {
	no := false
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- IncomingMsg{Type: TypeResponse, ID: id, OK: &no, Error: "extension disconnected"}:
		default:
		}
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // 16 MB, analysis payloads embed full header and image lists

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				s.connCtx = nil
			}
			s.mu.Unlock()
			if current {
				s.failPending()
			}
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if msg.Type == TypeResponse {
				s.resolve(msg)
				continue
			}
			applog.Info("ws.recv", "type", msg.Type, "action", msg.Action, "event", msg.Event)
			select {
			case s.msgs <- msg:
			default:
				applog.Warn("ws.dropped", "type", msg.Type, "action", msg.Action, "event", msg.Event)
			}
		}
	})
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
